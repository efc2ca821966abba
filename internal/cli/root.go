package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cohort-run/cohort/internal/config"
	"github.com/cohort-run/cohort/internal/runtime"
	"github.com/cohort-run/cohort/internal/slurm"

	_ "github.com/cohort-run/cohort/internal/runtime/docker"
	_ "github.com/cohort-run/cohort/internal/runtime/process"
)

func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	var jobFile string

	root := &cobra.Command{
		Use:   "cohort",
		Short: "Launch and supervise co-scheduled job groups",
	}

	root.PersistentFlags().
		StringVarP(&jobFile, "file", "f", "job.yaml", "Path to job group definition")

	ctx := &context{jobFile: &jobFile}
	root.AddCommand(newUpCmd(ctx))
	root.AddCommand(newRenderCmd(ctx))
	root.AddCommand(newSubmitCmd(ctx))
	root.AddCommand(newCancelCmd(ctx))
	root.AddCommand(newValidateCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint. The process exit code mirrors the
// triggering worker's exit code when a supervised group stops.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			if exitErr.message != "" {
				fmt.Fprintln(os.Stderr, exitErr.message)
			}
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// exitCodeError carries a specific process exit code out of a command.
type exitCodeError struct {
	code    int
	message string
}

func (e *exitCodeError) Error() string {
	if e.message != "" {
		return e.message
	}
	return fmt.Sprintf("exit code %d", e.code)
}

type context struct {
	jobFile *string

	mu        sync.Mutex
	launchers runtime.Registry
	slurm     *slurm.Client
}

func (c *context) loadManifest() (*config.Manifest, error) {
	return config.Load(*c.jobFile)
}

func (c *context) getLaunchers() runtime.Registry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.launchers == nil {
		c.launchers = runtime.NewRegistry()
	}
	return c.launchers
}

func (c *context) setLaunchers(reg runtime.Registry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.launchers = reg.Clone()
}

func (c *context) slurmClient() *slurm.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slurm == nil {
		c.slurm = slurm.NewClient()
	}
	return c.slurm
}
