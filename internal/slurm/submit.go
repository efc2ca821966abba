package slurm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// Client wraps the sbatch and scancel command line tools.
type Client struct {
	SubmitCmd string
	CancelCmd string

	// run executes a command and returns its stdout. Swappable in tests.
	run func(ctx context.Context, name string, args ...string) (string, error)
}

// NewClient constructs a client using the standard SLURM tool names.
func NewClient() *Client {
	return &Client{
		SubmitCmd: "sbatch",
		CancelCmd: "scancel",
		run:       runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("%s: %w: %s", name, err, msg)
	}
	return stdout.String(), nil
}

// Submit submits the script at the given path and returns the scheduler's
// job identifier.
func (c *Client) Submit(ctx context.Context, scriptPath string) (string, error) {
	out, err := c.run(ctx, c.SubmitCmd, scriptPath)
	if err != nil {
		return "", fmt.Errorf("submit batch script: %w", err)
	}
	id := extractJobID(out)
	if id == "" {
		return "", fmt.Errorf("submit batch script: could not parse job id from %q", strings.TrimSpace(out))
	}
	return id, nil
}

// Cancel cancels a previously submitted job.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	if _, err := c.run(ctx, c.CancelCmd, jobID); err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	return nil
}

// extractJobID pulls the job id out of sbatch's response.
// Example response: "Submitted batch job 42"
var submittedPattern = regexp.MustCompile(`Submitted batch job ([0-9]+)`)

func extractJobID(out string) string {
	matches := submittedPattern.FindStringSubmatch(out)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}
