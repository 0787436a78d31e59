package dispatch

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/model"
)

// Handler reacts to one exit event of a suspended run
type Handler interface {
	Handle(hc *Context, ev model.ExitEvent) (Directive, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(hc *Context, ev model.ExitEvent) (Directive, error)

// Handle implements Handler
func (f HandlerFunc) Handle(hc *Context, ev model.ExitEvent) (Directive, error) {
	return f(hc, ev)
}

// Exhaustion selects what a Sequence does once its steps are used up
type Exhaustion int

const (
	// ExhaustFail raises ErrSequenceExhausted
	ExhaustFail Exhaustion = iota
	// ExhaustDefault falls back to the event kind's default action
	ExhaustDefault
)

// Sequence is a stateful handler that consumes one step per event. It is
// not safe for concurrent use; every run gets its own instance.
type Sequence struct {
	steps     []Handler
	next      int
	loop      bool
	exhausted Exhaustion
}

// NewSequence runs steps in order, one per event, and fails once they are
// used up.
func NewSequence(steps ...Handler) *Sequence {
	return &Sequence{steps: steps, exhausted: ExhaustFail}
}

// SingleShot runs h for the first event only. Later events of the kind get
// the default action.
func SingleShot(h Handler) *Sequence {
	return &Sequence{steps: []Handler{h}, exhausted: ExhaustDefault}
}

// Repeat cycles through steps for as long as events arrive
func Repeat(steps ...Handler) *Sequence {
	return &Sequence{steps: steps, loop: true}
}

// OnExhausted changes the exhaustion policy
func (s *Sequence) OnExhausted(e Exhaustion) *Sequence {
	s.exhausted = e
	return s
}

// Remaining returns the number of steps not yet consumed, -1 for Repeat
func (s *Sequence) Remaining() int {
	if s.loop {
		return -1
	}
	return len(s.steps) - s.next
}

// Handle implements Handler
func (s *Sequence) Handle(hc *Context, ev model.ExitEvent) (Directive, error) {
	if len(s.steps) == 0 || (!s.loop && s.next >= len(s.steps)) {
		if s.exhausted == ExhaustDefault {
			hc.Logger.Info("Handler sequence exhausted, using default action",
				zap.String("kind", string(ev.Kind)), zap.Uint64("seq", ev.Seq))
			return Default(), nil
		}
		return Directive{}, fmt.Errorf("%w after %d steps", ErrSequenceExhausted, len(s.steps))
	}

	step := s.steps[s.next]
	s.next++
	if s.loop {
		s.next %= len(s.steps)
	}
	return step.Handle(hc, ev)
}

// Table binds handlers to event kinds for one run
type Table map[model.EventKind]Handler

// Factory builds a fresh Table per run so stateful handlers are never
// shared between concurrent runs
type Factory func() Table

// DefaultAction returns the action applied to ev when its kind has no handler.
// The boolean is false for kinds without a default.
func DefaultAction(ev model.ExitEvent) (Directive, bool) {
	switch ev.Kind {
	case model.EventExit, model.EventMaxTick:
		return Terminate(ev.Code), true
	case model.EventWorkBegin, model.EventWorkEnd, model.EventCheckpoint:
		return Resume(), true
	case model.EventFail:
		d := Fail(fmt.Sprintf("guest reported failure with code %d", ev.Code))
		d.Code = ev.Code
		return d, true
	}
	return Directive{}, false
}
