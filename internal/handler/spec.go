// Package handler builds per-run exit-event handler tables from
// declarative configuration.
package handler

import (
	"errors"
	"fmt"
	"time"

	"github.com/t77yq/multisim/internal/dispatch"
	"github.com/t77yq/multisim/internal/model"
)

// ErrInvalidSpec is returned when a handler configuration cannot be built
var ErrInvalidSpec = errors.New("invalid handler spec")

// ActionType names a built-in action
type ActionType string

const (
	ActionDumpStats   ActionType = "dump_stats"
	ActionResetStats  ActionType = "reset_stats"
	ActionSwitch      ActionType = "switch"
	ActionResetSwitch ActionType = "reset_switch"
	ActionCheckpoint  ActionType = "checkpoint"
	ActionLog         ActionType = "log"
	ActionExec        ActionType = "exec"
	ActionWebhook     ActionType = "webhook"
)

// ActionSpec configures one action of a step
type ActionSpec struct {
	Type ActionType `mapstructure:"type" json:"type"`

	// log
	Message string `mapstructure:"message" json:"message,omitempty"`

	// exec
	Command string            `mapstructure:"command" json:"command,omitempty"`
	Args    []string          `mapstructure:"args" json:"args,omitempty"`
	Env     map[string]string `mapstructure:"env" json:"env,omitempty"`
	Dir     string            `mapstructure:"dir" json:"dir,omitempty"`
	Timeout time.Duration     `mapstructure:"timeout" json:"timeout,omitempty"`

	// webhook
	URL     string            `mapstructure:"url" json:"url,omitempty"`
	Method  string            `mapstructure:"method" json:"method,omitempty"`
	Headers map[string]string `mapstructure:"headers" json:"headers,omitempty"`

	// Required makes a failed exec or webhook fail the run. Otherwise the
	// failure is logged and the step's directive stands.
	Required bool `mapstructure:"required" json:"required,omitempty"`
}

// StepSpec is one invocation of a handler: its actions run in order, then
// the directive is returned
type StepSpec struct {
	Actions   []ActionSpec `mapstructure:"actions" json:"actions,omitempty"`
	Directive string       `mapstructure:"directive" json:"directive,omitempty"`
	Code      int          `mapstructure:"code" json:"code,omitempty"`
	Reason    string       `mapstructure:"reason" json:"reason,omitempty"`
}

// Mode selects how steps are consumed
type Mode string

const (
	ModeSequence   Mode = "sequence"
	ModeSingleShot Mode = "single_shot"
	ModeRepeat     Mode = "repeat"
)

// HandlerSpec configures the handler of one event kind
type HandlerSpec struct {
	Mode      Mode       `mapstructure:"mode" json:"mode,omitempty"`
	Exhausted string     `mapstructure:"exhausted" json:"exhausted,omitempty"`
	Steps     []StepSpec `mapstructure:"steps" json:"steps"`
}

// Spec maps event kinds to handler configurations
type Spec map[string]HandlerSpec

func (s StepSpec) directive() (dispatch.Directive, error) {
	switch s.Directive {
	case "", "resume":
		return dispatch.Resume(), nil
	case "terminate":
		return dispatch.Terminate(s.Code), nil
	case "fail":
		d := dispatch.Fail(s.Reason)
		d.Code = s.Code
		return d, nil
	case "default":
		return dispatch.Default(), nil
	}
	return dispatch.Directive{}, fmt.Errorf("%w: unknown directive %q", ErrInvalidSpec, s.Directive)
}

func (h HandlerSpec) exhaustion() (dispatch.Exhaustion, error) {
	switch h.Exhausted {
	case "":
		if h.Mode == ModeSingleShot {
			return dispatch.ExhaustDefault, nil
		}
		return dispatch.ExhaustFail, nil
	case "fail":
		return dispatch.ExhaustFail, nil
	case "default":
		return dispatch.ExhaustDefault, nil
	}
	return 0, fmt.Errorf("%w: unknown exhaustion policy %q", ErrInvalidSpec, h.Exhausted)
}

func (a ActionSpec) validate() error {
	switch a.Type {
	case ActionDumpStats, ActionResetStats, ActionSwitch, ActionResetSwitch, ActionCheckpoint:
		return nil
	case ActionLog:
		if a.Message == "" {
			return fmt.Errorf("%w: log action needs a message", ErrInvalidSpec)
		}
		return nil
	case ActionExec:
		if a.Command == "" {
			return fmt.Errorf("%w: exec action needs a command", ErrInvalidSpec)
		}
		return nil
	case ActionWebhook:
		if a.URL == "" {
			return fmt.Errorf("%w: webhook action needs a url", ErrInvalidSpec)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown action %q", ErrInvalidSpec, a.Type)
}

// Presets are ready-made specs for the common experiment shapes
var Presets = map[string]Spec{
	// dump and reset around the region of interest
	"roi_stats": {
		string(model.EventWorkBegin): {
			Mode: ModeRepeat,
			Steps: []StepSpec{{
				Actions: []ActionSpec{{Type: ActionResetStats}},
			}},
		},
		string(model.EventWorkEnd): {
			Mode: ModeRepeat,
			Steps: []StepSpec{{
				Actions: []ActionSpec{{Type: ActionDumpStats}},
			}},
		},
	},
	// boot on the starting cores, switch at the first exit, then run to the end
	"switch_on_exit": {
		string(model.EventExit): {
			Mode: ModeSingleShot,
			Steps: []StepSpec{{
				Actions: []ActionSpec{{Type: ActionSwitch}},
			}},
		},
	},
	// checkpoint at every checkpoint request
	"checkpoint": {
		string(model.EventCheckpoint): {
			Mode: ModeRepeat,
			Steps: []StepSpec{{
				Actions: []ActionSpec{{Type: ActionCheckpoint}},
			}},
		},
	},
}
