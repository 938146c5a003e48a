// Package process discovers Java runtimes and builds the simulator invocation.
package process

import (
	"context"
	"os/exec"
)

// Runner creates executable commands.
// This interface allows the supervisor to be process-agnostic.
type Runner interface {
	// BuildCommand returns a ready-to-start command.
	// The command should NOT be started yet.
	BuildCommand(ctx context.Context) (*exec.Cmd, error)

	// Name returns a human-readable name for this process type.
	Name() string
}
