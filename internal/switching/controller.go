// Package switching swaps the processor implementation of a running
// system, e.g. booting on timing cores and measuring on out-of-order ones.
package switching

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/components"
	"github.com/t77yq/multisim/internal/dispatch"
	"github.com/t77yq/multisim/internal/engine"
	"github.com/t77yq/multisim/internal/model"
)

// State of a Controller
type State string

const (
	StateStarting State = "starting"
	StateSwitched State = "switched"
)

// InvalidStateError is returned when the controller is used out of order
type InvalidStateError struct {
	State  State
	Op     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s in state %s: %s", e.Op, e.State, e.Reason)
}

// ErrorClass implements the dispatcher's error classification
func (e *InvalidStateError) ErrorClass() model.ErrorClass {
	return model.ErrorClassInvalidState
}

// Controller tracks which variant of a switchable processor is active. One
// controller belongs to one run.
type Controller struct {
	mu    sync.Mutex
	state State
}

// NewController returns a controller on the starting cores
func NewController() *Controller {
	return &Controller{state: StateStarting}
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active returns the processor variant currently running for p
func (c *Controller) Active(p *components.Component) *components.Component {
	if !p.Switchable() {
		return p
	}
	if c.State() == StateSwitched {
		return p.Variants()[1]
	}
	return p.Variants()[0]
}

// Switch moves the run from the starting cores to the switch cores. It must
// be called from a handler while the run is suspended.
func (c *Controller) Switch(hc *dispatch.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateSwitched {
		return &InvalidStateError{State: c.state, Op: "switch", Reason: "already switched, reset first"}
	}
	if err := c.transition(hc, "switch", 1); err != nil {
		return err
	}
	c.state = StateSwitched
	return nil
}

// Reset moves the run back to the starting cores. Resetting a controller
// that never switched is a no-op.
func (c *Controller) Reset(hc *dispatch.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateStarting {
		return nil
	}
	if err := c.transition(hc, "reset", 0); err != nil {
		return err
	}
	c.state = StateStarting
	return nil
}

func (c *Controller) transition(hc *dispatch.Context, op string, variant int) error {
	p := hc.Descriptor.Processor()
	if !p.Switchable() {
		return &InvalidStateError{State: c.state, Op: op, Reason: fmt.Sprintf("processor %s is not switchable", p.Name())}
	}
	if !hc.Engine.Capabilities().ProcessorSwitch {
		return &engine.SwitchError{Reason: "engine cannot switch processors"}
	}

	target := p.Variants()[variant]
	if err := hc.Engine.SwitchProcessor(hc.Handle, target); err != nil {
		if errors.Is(err, engine.ErrNotSuspended) {
			return &InvalidStateError{State: c.state, Op: op, Reason: "run is not suspended"}
		}
		return err
	}
	hc.Logger.Info("Switched processor",
		zap.String("op", op),
		zap.String("to", target.Name()))
	return nil
}
