package core

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration covers missing/invalid profiles, unsupported engines and unlocatable executables
	ErrConfiguration      = errors.New("configuration error")
	ErrProfileNotFound    = fmt.Errorf("%w: profile not found", ErrConfiguration)
	ErrUnsupportedEngine  = fmt.Errorf("%w: unsupported engine family", ErrConfiguration)
	ErrExecutableNotFound = fmt.Errorf("%w: browser executable not found", ErrConfiguration)

	// ErrLaunch means the engine failed to start; no instance record was kept
	ErrLaunch = errors.New("launch error")

	ErrNotRunning     = errors.New("instance not running")
	ErrShuttingDown   = errors.New("registry shutting down")
	ErrScriptNotFound = errors.New("script not found")
	ErrInvalidScript  = errors.New("invalid script")
	ErrTaskNotFound   = errors.New("task not found")
	ErrProfileBusy    = errors.New("profile already has a running task")
)

// StepError is a single automation step failure
type StepError struct {
	Index int
	Kind  StepKind
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
