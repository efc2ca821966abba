package cli

import (
	"bytes"
	stdcontext "context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/cohort-run/cohort/internal/runtime"
)

func writeJobFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write job file: %v", err)
	}
	return path
}

type fakeHandle struct {
	mu sync.Mutex

	exited     bool
	code       int
	exitOnTerm bool
	exitOnKill bool
	killed     bool

	logs chan runtime.LogEntry
}

func (h *fakeHandle) TryWait() (int, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.exited {
		return 0, false, nil
	}
	return h.code, true, nil
}

func (h *fakeHandle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exitOnTerm && !h.exited {
		h.exited = true
		h.code = 143
	}
	return nil
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killed = true
	if h.exitOnKill && !h.exited {
		h.exited = true
		h.code = 137
	}
	return nil
}

func (h *fakeHandle) Logs() <-chan runtime.LogEntry {
	return h.logs
}

type fakeLauncher struct {
	mu      sync.Mutex
	handles map[string]*fakeHandle
	failFor string
	started []string
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{handles: make(map[string]*fakeHandle)}
}

func (l *fakeLauncher) Start(ctx stdcontext.Context, spec runtime.StartSpec) (runtime.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if spec.Name == l.failFor {
		return nil, fmt.Errorf("launcher rejected %s", spec.Name)
	}
	l.started = append(l.started, spec.Name)
	handle := l.handles[spec.Name]
	if handle == nil {
		handle = &fakeHandle{exitOnTerm: true, exitOnKill: true}
		l.handles[spec.Name] = handle
	}
	return handle, nil
}

func (l *fakeLauncher) startOrder() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.started...)
}

const twoWorkerJob = `
job:
  name: demo
supervise:
  pollInterval: 5ms
  gracePeriod: 10ms
workers:
  - name: trainer
    command: ["trainer.sh"]
  - name: inference
    command: ["serve.sh"]
`

func TestUpCommandSupervisesGroupToCompletion(t *testing.T) {
	t.Parallel()

	launcher := newFakeLauncher()
	trainerLogs := make(chan runtime.LogEntry, 1)
	trainerLogs <- runtime.LogEntry{Message: "training step 1", Source: runtime.LogSourceStdout}
	close(trainerLogs)
	launcher.handles["trainer"] = &fakeHandle{exited: true, code: 0, logs: trainerLogs}
	launcher.handles["inference"] = &fakeHandle{exitOnTerm: true}

	jobPath := writeJobFile(t, twoWorkerJob)
	ctx := &context{jobFile: &jobPath}
	ctx.setLaunchers(runtime.Registry{"process": launcher})

	cmd := newUpCmd(ctx)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{})
	cmd.SetContext(stdcontext.Background())

	if err := cmd.Execute(); err != nil {
		t.Fatalf("up command failed: %v\nstderr: %s", err, stderr.String())
	}

	if got := launcher.startOrder(); !reflect.DeepEqual(got, []string{"trainer", "inference"}) {
		t.Fatalf("unexpected start order: %v", got)
	}
	if !bytes.Contains(stdout.Bytes(), []byte(`"worker":"trainer"`)) ||
		!bytes.Contains(stdout.Bytes(), []byte(`"msg":"training step 1"`)) {
		t.Fatalf("expected structured worker log in stdout, got: %s", stdout.String())
	}
	if !bytes.Contains(stdout.Bytes(), []byte("trigger=trainer")) {
		t.Fatalf("expected group summary naming the trigger, got: %s", stdout.String())
	}
	if stderr.Len() != 0 {
		t.Fatalf("expected no stderr output, got: %s", stderr.String())
	}
}

func TestUpCommandPropagatesTriggerExitCode(t *testing.T) {
	t.Parallel()

	launcher := newFakeLauncher()
	launcher.handles["trainer"] = &fakeHandle{exited: true, code: 2}
	launcher.handles["inference"] = &fakeHandle{exitOnTerm: true}

	jobPath := writeJobFile(t, twoWorkerJob)
	ctx := &context{jobFile: &jobPath}
	ctx.setLaunchers(runtime.Registry{"process": launcher})

	cmd := newUpCmd(ctx)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{})
	cmd.SetContext(stdcontext.Background())

	err := cmd.Execute()
	if err == nil {
		t.Fatalf("expected up command to fail, stdout: %s", stdout.String())
	}
	var exitErr *exitCodeError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected exit code error, got %v", err)
	}
	if exitErr.code != 2 {
		t.Fatalf("expected exit code 2, got %d", exitErr.code)
	}
}

func TestUpCommandTearsDownAfterLaunchFailure(t *testing.T) {
	t.Parallel()

	launcher := newFakeLauncher()
	launcher.failFor = "inference"
	trainer := &fakeHandle{exitOnKill: true}
	launcher.handles["trainer"] = trainer

	jobPath := writeJobFile(t, twoWorkerJob)
	ctx := &context{jobFile: &jobPath}
	ctx.setLaunchers(runtime.Registry{"process": launcher})

	cmd := newUpCmd(ctx)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{})
	cmd.SetContext(stdcontext.Background())

	err := cmd.Execute()
	if err == nil {
		t.Fatalf("expected launch failure to surface")
	}
	trainer.mu.Lock()
	killed := trainer.killed
	trainer.mu.Unlock()
	if !killed {
		t.Fatalf("expected already-started worker to be killed after launch failure")
	}
}

func TestUpCommandRejectsUnknownRuntime(t *testing.T) {
	t.Parallel()

	jobPath := writeJobFile(t, `
job:
  name: demo
defaults:
  runtime: docker
workers:
  - name: trainer
    image: registry.local/trainer:latest
`)
	ctx := &context{jobFile: &jobPath}
	ctx.setLaunchers(runtime.Registry{"process": newFakeLauncher()})

	cmd := newUpCmd(ctx)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{})
	cmd.SetContext(stdcontext.Background())

	err := cmd.Execute()
	if err == nil {
		t.Fatalf("expected unknown runtime to be rejected")
	}
}
