// Package supervisor runs a single child process to completion and stops it
// cleanly on cancellation.
package supervisor

// State represents the lifecycle state of a supervised run.
type State int

const (
	// StateCreated is the initial state before the process has started.
	StateCreated State = iota

	// StateStarting indicates the process is being spawned.
	StateStarting

	// StateRunning indicates the process is running.
	StateRunning

	// StateStopping indicates a stop was requested and the process group
	// has been signalled.
	StateStopping

	// StateExited indicates the process has exited on its own.
	StateExited

	// StateStopped indicates the process was stopped by cancellation or
	// never started.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateExited:
		return "exited"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
