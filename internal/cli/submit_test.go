package cli

import (
	"bytes"
	stdcontext "context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

const slurmJob = `
job:
  name: reinforce
slurm:
  account: ml-research
  partition: gpu
  nodes: 4
  gpusPerNode: 8
  timeLimit: "04:00:00"
workers:
  - name: trainer
    command: ["python", "train.py"]
  - name: inference
    command: ["python", "serve.py"]
`

func TestRenderCommandWritesScript(t *testing.T) {
	t.Parallel()

	jobPath := writeJobFile(t, slurmJob)
	ctx := &context{jobFile: &jobPath}

	cmd := newRenderCmd(ctx)
	cmd.SetArgs([]string{})
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetContext(stdcontext.Background())

	if err := cmd.Execute(); err != nil {
		t.Fatalf("render command failed: %v\nstderr: %s", err, stderr.String())
	}

	script := stdout.String()
	for _, want := range []string{
		"#SBATCH --job-name=reinforce",
		"#SBATCH --account=ml-research",
		"#SBATCH --nodes=4",
		"#SBATCH --gpus-per-node=8",
		"srun cohort up -f",
	} {
		if !strings.Contains(script, want) {
			t.Fatalf("expected %q in rendered script:\n%s", want, script)
		}
	}
}

func TestRenderCommandRequiresSlurmSection(t *testing.T) {
	t.Parallel()

	jobPath := writeJobFile(t, `
job:
  name: demo
workers:
  - name: trainer
    command: ["true"]
`)
	ctx := &context{jobFile: &jobPath}

	cmd := newRenderCmd(ctx)
	cmd.SetArgs([]string{})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetContext(stdcontext.Background())

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected render to fail without a slurm section")
	}
}

func writeStubTool(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub scheduler tools require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), name)
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub tool: %v", err)
	}
	return path
}

func TestSubmitCommandReportsJobID(t *testing.T) {
	t.Parallel()

	jobPath := writeJobFile(t, slurmJob)
	ctx := &context{jobFile: &jobPath}
	ctx.slurmClient().SubmitCmd = writeStubTool(t, "sbatch", `echo "Submitted batch job 4242"`)

	scriptDir := t.TempDir()
	cmd := newSubmitCmd(ctx)
	cmd.SetArgs([]string{"--script-dir", scriptDir})
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetContext(stdcontext.Background())

	if err := cmd.Execute(); err != nil {
		t.Fatalf("submit command failed: %v\nstderr: %s", err, stderr.String())
	}

	if !strings.Contains(stdout.String(), "Submitted batch job 4242") {
		t.Fatalf("expected job ID in output, got: %s", stdout.String())
	}

	script, err := os.ReadFile(filepath.Join(scriptDir, "reinforce.sbatch"))
	if err != nil {
		t.Fatalf("expected rendered script on disk: %v", err)
	}
	if !strings.Contains(string(script), "#SBATCH --partition=gpu") {
		t.Fatalf("unexpected script contents:\n%s", script)
	}
}

func TestCancelCommandInvokesScancel(t *testing.T) {
	t.Parallel()

	jobPath := writeJobFile(t, slurmJob)
	ctx := &context{jobFile: &jobPath}
	ctx.slurmClient().CancelCmd = writeStubTool(t, "scancel", `exit 0`)

	cmd := newCancelCmd(ctx)
	cmd.SetArgs([]string{"4242"})
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetContext(stdcontext.Background())

	if err := cmd.Execute(); err != nil {
		t.Fatalf("cancel command failed: %v\nstderr: %s", err, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Cancelled job 4242") {
		t.Fatalf("expected cancellation message, got: %s", stdout.String())
	}
}

func TestValidateCommandAcceptsManifest(t *testing.T) {
	t.Parallel()

	jobPath := writeJobFile(t, slurmJob)
	ctx := &context{jobFile: &jobPath}

	cmd := newValidateCmd(ctx)
	cmd.SetArgs([]string{})
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetContext(stdcontext.Background())

	if err := cmd.Execute(); err != nil {
		t.Fatalf("validate command failed: %v", err)
	}
	if !strings.Contains(stdout.String(), "is valid") {
		t.Fatalf("expected validation confirmation, got: %s", stdout.String())
	}
}

func TestValidateCommandRejectsBadManifest(t *testing.T) {
	t.Parallel()

	jobPath := writeJobFile(t, `
job:
  name: demo
workers: []
`)
	ctx := &context{jobFile: &jobPath}

	cmd := newValidateCmd(ctx)
	cmd.SetArgs([]string{})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetContext(stdcontext.Background())

	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected empty worker set to be rejected")
	}
}
