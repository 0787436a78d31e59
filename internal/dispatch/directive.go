package dispatch

import "fmt"

// Action is what the dispatcher does after a handler returns
type Action int

const (
	ActionResume Action = iota
	ActionTerminate
	ActionFail
	ActionDefault
)

// Directive is a handler's decision about the suspended run
type Directive struct {
	Action Action
	Code   int
	Reason string
}

// Resume continues the run
func Resume() Directive { return Directive{Action: ActionResume} }

// Terminate ends the run successfully with an exit code
func Terminate(code int) Directive { return Directive{Action: ActionTerminate, Code: code} }

// Fail ends the run as failed
func Fail(reason string) Directive { return Directive{Action: ActionFail, Reason: reason} }

// Default applies the event kind's default action
func Default() Directive { return Directive{Action: ActionDefault} }

func (d Directive) String() string {
	switch d.Action {
	case ActionResume:
		return "resume"
	case ActionTerminate:
		return fmt.Sprintf("terminate(%d)", d.Code)
	case ActionFail:
		return fmt.Sprintf("fail(%s)", d.Reason)
	case ActionDefault:
		return "default"
	}
	return fmt.Sprintf("action(%d)", int(d.Action))
}
