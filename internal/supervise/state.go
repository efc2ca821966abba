package supervise

// WorkerState is the observed liveness of a worker. The only transition is
// Running to Exited; it is one-directional and terminal.
type WorkerState int

const (
	StateRunning WorkerState = iota
	StateExited
)

func (s WorkerState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Outcome describes how a worker reached its terminal state.
type Outcome string

const (
	// OutcomeExited marks a worker that exited on its own; its exit code
	// was collected.
	OutcomeExited Outcome = "exited"
	// OutcomeKilled marks a worker the supervisor signaled for
	// termination after a sibling's exit.
	OutcomeKilled Outcome = "killed"
	// OutcomeUnknown marks a worker whose process vanished before its
	// status could be collected.
	OutcomeUnknown Outcome = "unknown"
)

// CodeUnknown is recorded when a worker's real exit code is unavailable.
const CodeUnknown = -1
