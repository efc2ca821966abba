//go:build !windows

package process

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// Terminate delivers SIGTERM to the worker's process group. A process that
// already vanished is not an error; its exit is picked up on the next poll.
func (h *processHandle) Terminate() error {
	return h.signal(syscall.SIGTERM)
}

// Kill delivers SIGKILL to the worker's process group.
func (h *processHandle) Kill() error {
	return h.signal(syscall.SIGKILL)
}

func (h *processHandle) signal(sig syscall.Signal) error {
	if h.cmd.Process == nil {
		return fmt.Errorf("worker %s has no process", h.name)
	}
	if err := syscall.Kill(-h.cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal process group %s: %w", h.name, err)
	}
	return nil
}

// exitCodeFromState derives a shell-style exit code, mapping signal deaths to
// 128+signal so that a SIGKILLed worker reports 137 rather than -1.
func exitCodeFromState(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
