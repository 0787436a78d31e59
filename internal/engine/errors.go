package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrRunFinished is returned by NextEvent when the run has drained
	ErrRunFinished = errors.New("run finished")

	// ErrUnknownRun is returned for handles this engine did not issue
	ErrUnknownRun = errors.New("unknown run handle")

	// ErrNotSuspended is returned when an operation needs a suspended run
	ErrNotSuspended = errors.New("run is not suspended")

	// ErrPendingResume is returned by NextEvent while the previous event
	// has not been resumed
	ErrPendingResume = errors.New("previous event has not been resumed")

	// ErrRunNotFinished is returned by Stats before the run is over
	ErrRunNotFinished = errors.New("run has not finished")
)

// EngineStartError is returned when a run cannot be started
type EngineStartError struct {
	Label string
	Err   error
}

func (e *EngineStartError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Label, e.Err)
}

func (e *EngineStartError) Unwrap() error {
	return e.Err
}

// SwitchError is returned when a processor switch cannot preserve state
type SwitchError struct {
	Reason string
}

func (e *SwitchError) Error() string {
	return "processor switch failed: " + e.Reason
}
