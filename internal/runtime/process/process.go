package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/cohort-run/cohort/internal/runtime"
)

func init() {
	runtime.Register("process", New)
}

type launcher struct{}

// New constructs a launcher that executes workers as local processes.
func New() runtime.Launcher {
	return &launcher{}
}

func (l *launcher) Start(ctx context.Context, spec runtime.StartSpec) (runtime.Handle, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("process launcher for worker %s requires a command", spec.Name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The command is deliberately not bound to ctx: once launched, the
	// worker's lifetime is owned by its supervisor, not the startup context.
	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	if spec.Workdir != "" {
		cmd.Dir = spec.Workdir
	}

	env := os.Environ()
	if spec.Env != nil {
		overrides := make([]string, 0, len(spec.Env))
		for k, v := range spec.Env {
			overrides = append(overrides, fmt.Sprintf("%s=%s", k, v))
		}
		env = append(env, overrides...)
	}
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %s stdout: %w", spec.Name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %s stderr: %w", spec.Name, err)
	}

	configureCmdSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", spec.Name, err)
	}

	h := &processHandle{
		name:     spec.Name,
		cmd:      cmd,
		logs:     make(chan runtime.LogEntry, 64),
		waitDone: make(chan struct{}),
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go h.streamLogs(stdout, runtime.LogSourceStdout, &wg)
	go h.streamLogs(stderr, runtime.LogSourceStderr, &wg)
	go func() {
		wg.Wait()
		close(h.logs)
	}()

	go func() {
		h.waitErr = cmd.Wait()
		close(h.waitDone)
	}()

	return h, nil
}

type processHandle struct {
	name string
	cmd  *exec.Cmd
	logs chan runtime.LogEntry

	waitDone chan struct{}
	waitErr  error
}

func (h *processHandle) TryWait() (int, bool, error) {
	select {
	case <-h.waitDone:
	default:
		return 0, false, nil
	}
	if h.cmd.ProcessState == nil {
		return 0, true, fmt.Errorf("worker %s: %w", h.name, h.waitErr)
	}
	return exitCodeFromState(h.cmd.ProcessState), true, nil
}

func (h *processHandle) Logs() <-chan runtime.LogEntry {
	return h.logs
}

func (h *processHandle) streamLogs(r io.Reader, source string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\n")
		entry := runtime.LogEntry{Message: line, Source: source}
		if source == runtime.LogSourceStderr {
			entry.Level = "warn"
		}
		h.logs <- entry
	}
}
