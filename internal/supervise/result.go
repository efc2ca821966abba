package supervise

import (
	"fmt"
	"strings"
)

// WorkerStatus is the terminal status of one worker.
type WorkerStatus struct {
	Slot    int
	Name    string
	Outcome Outcome
	// Code is the observed exit code. For killed workers it retains the raw
	// signal-derived code for diagnostics; CodeUnknown when unavailable.
	Code int
}

// Describe renders the status the way it appears in final summaries, e.g.
// "trainer=1" for a natural exit and "metrics=killed" for a forced one.
func (ws WorkerStatus) Describe() string {
	if ws.Outcome == OutcomeExited {
		return fmt.Sprintf("%s=%d", ws.Name, ws.Code)
	}
	return fmt.Sprintf("%s=%s", ws.Name, ws.Outcome)
}

// Result is the final outcome of a supervision pass: the first worker
// observed to exit, plus the terminal status of every worker in input order.
type Result struct {
	Trigger WorkerStatus
	Workers []WorkerStatus
	// Aborted reports that supervision was cancelled by the caller before
	// every worker was observed to exit naturally.
	Aborted bool
}

// ExitCode is the code the supervising process should propagate to the
// batch scheduler: the trigger's own exit code, or 0 when the trigger
// exited successfully. Aborted or indeterminate passes map to 1.
func (r *Result) ExitCode() int {
	if r == nil || r.Aborted {
		return 1
	}
	if r.Trigger.Outcome == OutcomeExited && r.Trigger.Code >= 0 {
		return r.Trigger.Code
	}
	return 1
}

// Summary renders a one-line account of the pass.
func (r *Result) Summary() string {
	if r == nil {
		return ""
	}
	parts := make([]string, 0, len(r.Workers))
	for _, ws := range r.Workers {
		parts = append(parts, ws.Describe())
	}
	if r.Aborted {
		return "aborted: " + strings.Join(parts, " ")
	}
	return fmt.Sprintf("trigger=%s %s", r.Trigger.Name, strings.Join(parts, " "))
}
