//go:build windows

package process

import (
	"errors"
	"fmt"
	"os"
)

// Terminate sends an interrupt to the worker process. Windows offers no
// process-group delivery, so only the direct child is signaled.
func (h *processHandle) Terminate() error {
	if h.cmd.Process == nil {
		return fmt.Errorf("worker %s has no process", h.name)
	}
	if err := h.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal process %s: %w", h.name, err)
	}
	return nil
}

// Kill terminates the worker process unconditionally.
func (h *processHandle) Kill() error {
	if h.cmd.Process == nil {
		return fmt.Errorf("worker %s has no process", h.name)
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %s: %w", h.name, err)
	}
	return nil
}

func exitCodeFromState(state *os.ProcessState) int {
	return state.ExitCode()
}
