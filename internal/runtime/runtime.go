package runtime

import "context"

// Log sources attached to worker output lines.
const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"
	LogSourceSystem = "system"
)

// LogEntry is a single line of output captured from a worker.
type LogEntry struct {
	Message string
	Source  string
	Level   string
}

// StartSpec describes one worker to launch.
type StartSpec struct {
	Name    string
	Command []string
	Env     map[string]string
	Workdir string

	// Container-backed launchers only.
	Image  string
	Mounts []string
	Ports  []string
}

// Handle references one launched worker process. The handle is owned by
// whoever supervises the worker; no other component may reap or signal it
// while supervision is active.
type Handle interface {
	// TryWait reports, without blocking, whether the worker has exited and
	// its exit code when it has. Once an exit has been reported the handle
	// is reaped and subsequent calls return the same result.
	TryWait() (code int, exited bool, err error)

	// Terminate requests a graceful shutdown of the worker.
	Terminate() error

	// Kill terminates the worker unconditionally.
	Kill() error

	// Logs returns a channel of output lines. The channel is closed once
	// the worker has stopped producing output. A nil channel indicates the
	// launcher does not provide log streaming.
	Logs() <-chan LogEntry
}

// Launcher describes a backend capable of starting workers.
type Launcher interface {
	// Start launches the described worker and returns a handle referencing
	// the running process. Implementations should respect context
	// cancellation during startup and surface failures via returned errors.
	Start(ctx context.Context, spec StartSpec) (Handle, error)
}
