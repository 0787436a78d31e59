package dispatch

import (
	"errors"
	"fmt"

	"github.com/t77yq/multisim/internal/model"
)

var (
	// ErrSequenceExhausted is returned when a handler sequence has no step
	// left for an event and its policy is to fail
	ErrSequenceExhausted = errors.New("handler sequence exhausted")

	// ErrOutOfOrder is returned when the engine delivers a stale sequence number
	ErrOutOfOrder = errors.New("exit event out of order")
)

// HandlerError wraps any failure raised while handling an exit event
type HandlerError struct {
	Event model.ExitEvent
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %s failed: %v", e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// UnspecifiedKindError is returned for an event kind that has neither a
// registered handler nor a default action
type UnspecifiedKindError struct {
	Kind model.EventKind
}

func (e *UnspecifiedKindError) Error() string {
	return fmt.Sprintf("no handler or default action for exit event kind %q", e.Kind)
}

// classifier is implemented by errors that know their record class
type classifier interface {
	ErrorClass() model.ErrorClass
}
