package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/randomizedcoder/simprof/internal/process"
)

// DefaultStopTimeout is how long a signalled process group gets to exit
// before it is killed.
const DefaultStopTimeout = 10 * time.Second

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStateChange is called when the run state changes.
	OnStateChange func(oldState, newState State)

	// OnExit is called after the process has been reaped.
	OnExit func(result Result)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Runner    process.Runner
	Logger    *slog.Logger
	Callbacks Callbacks

	// Dir is the child's working directory. Empty means the current one.
	Dir string

	// Stdin is nil unless set. The child leads its own process group, so
	// reading a terminal from there would stop it with SIGTTIN.
	Stdin io.Reader

	// Stdout and Stderr default to the parent's own streams.
	Stdout io.Writer
	Stderr io.Writer

	// StopTimeout bounds the SIGTERM grace period. Zero uses DefaultStopTimeout.
	StopTimeout time.Duration
}

// Result describes a completed run.
type Result struct {
	PID      int
	ExitCode int
	Started  time.Time
	Duration time.Duration

	// Stopped is true when the run was cut short by cancellation.
	Stopped bool
}

// Supervisor runs one child process to completion.
// A Supervisor is single-use.
type Supervisor struct {
	runner      process.Runner
	logger      *slog.Logger
	callbacks   Callbacks
	dir         string
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
	stopTimeout time.Duration

	state   State
	stateMu sync.RWMutex
	started time.Time
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	stdout := cfg.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := cfg.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	return &Supervisor{
		runner:      cfg.Runner,
		logger:      logger,
		callbacks:   cfg.Callbacks,
		dir:         cfg.Dir,
		stdin:       cfg.Stdin,
		stdout:      stdout,
		stderr:      stderr,
		stopTimeout: stopTimeout,
		state:       StateCreated,
	}
}

// Run starts the process and blocks until it exits.
//
// A nonzero exit status is reported in Result, not as an error. When ctx is
// cancelled the process group receives SIGTERM, then SIGKILL after the stop
// timeout, and Run returns the partial Result together with ctx.Err().
// Errors building or starting the command return a nil Result.
func (s *Supervisor) Run(ctx context.Context) (*Result, error) {
	if s.State() != StateCreated {
		return nil, errors.New("supervisor already used")
	}
	s.setState(StateStarting)

	cmd, err := s.runner.BuildCommand(ctx)
	if err != nil {
		s.logger.Error("failed_to_build_command",
			"runner", s.runner.Name(),
			"error", err,
		)
		s.setState(StateStopped)
		return nil, fmt.Errorf("build %s command: %w", s.runner.Name(), err)
	}

	cmd.Dir = s.dir
	cmd.Stdin = s.stdin
	cmd.Stdout = s.stdout
	cmd.Stderr = s.stderr

	// Own process group so signals reach anything the child spawns.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		return signalGroup(cmd.Process, syscall.SIGTERM)
	}
	// Backstop for stuck output copies; group escalation happens first.
	cmd.WaitDelay = 2 * s.stopTimeout

	s.started = time.Now()
	if err := cmd.Start(); err != nil {
		s.logger.Error("failed_to_start_process",
			"runner", s.runner.Name(),
			"error", err,
		)
		s.setState(StateStopped)
		return nil, fmt.Errorf("start %s: %w", s.runner.Name(), err)
	}

	pid := cmd.Process.Pid
	s.setState(StateRunning)
	s.logger.Info("process_started",
		"runner", s.runner.Name(),
		"pid", pid,
	)

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
	}()

	var (
		waitErr error
		stopped bool
	)
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		stopped = true
		s.setState(StateStopping)
		waitErr = s.awaitStop(cmd.Process, waitCh)
	}

	result := &Result{
		PID:      pid,
		ExitCode: extractExitCode(waitErr),
		Started:  s.started,
		Duration: time.Since(s.started),
		Stopped:  stopped,
	}

	if stopped {
		s.setState(StateStopped)
	} else {
		s.setState(StateExited)
	}

	s.logger.Info("process_exited",
		"runner", s.runner.Name(),
		"pid", pid,
		"exit_code", result.ExitCode,
		"duration", result.Duration.String(),
		"stopped", stopped,
	)
	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(*result)
	}

	if stopped {
		return result, ctx.Err()
	}
	return result, nil
}

// awaitStop waits for a signalled process, escalating to SIGKILL on the
// whole group once the stop timeout passes. SIGTERM was already sent by
// cmd.Cancel when the context ended.
func (s *Supervisor) awaitStop(proc *os.Process, waitCh <-chan error) error {
	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		return err
	case <-timer.C:
		s.logger.Warn("force_killing_process",
			"runner", s.runner.Name(),
			"pid", proc.Pid,
			"timeout", s.stopTimeout.String(),
		)
		if err := signalGroup(proc, syscall.SIGKILL); err != nil {
			proc.Kill()
		}
		return <-waitCh
	}
}

// signalGroup delivers sig to the process group led by proc.
func signalGroup(proc *os.Process, sig syscall.Signal) error {
	if proc == nil {
		return os.ErrProcessDone
	}
	pgid, err := syscall.Getpgid(proc.Pid)
	if err != nil {
		return proc.Signal(sig)
	}
	return syscall.Kill(-pgid, sig)
}

// State returns the current state of the supervisor.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// setState updates the state and calls the callback if registered.
func (s *Supervisor) setState(newState State) {
	s.stateMu.Lock()
	oldState := s.state
	s.state = newState
	s.stateMu.Unlock()

	if s.callbacks.OnStateChange != nil && oldState != newState {
		s.callbacks.OnStateChange(oldState, newState)
	}
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
