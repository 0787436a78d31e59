package model

import "fmt"

// EventKind identifies why the engine handed control back to the driver
type EventKind string

const (
	EventExit       EventKind = "exit"
	EventWorkBegin  EventKind = "workbegin"
	EventWorkEnd    EventKind = "workend"
	EventCheckpoint EventKind = "checkpoint"
	EventFail       EventKind = "fail"
	EventMaxTick    EventKind = "max_tick"
)

// KnownEventKinds lists the kinds the engines in this repository emit
var KnownEventKinds = []EventKind{
	EventExit,
	EventWorkBegin,
	EventWorkEnd,
	EventCheckpoint,
	EventFail,
	EventMaxTick,
}

// ParseEventKind converts a config string into a known EventKind
func ParseEventKind(s string) (EventKind, error) {
	for _, k := range KnownEventKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown exit event kind %q", s)
}

// ExitEvent is a single suspension point reported by an engine.
// Seq is strictly increasing within one run.
type ExitEvent struct {
	Seq     uint64    `json:"seq"`
	Kind    EventKind `json:"kind"`
	Code    int       `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	SimTime float64   `json:"sim_time"`
}

func (e ExitEvent) String() string {
	if e.Message != "" {
		return fmt.Sprintf("%s(seq=%d, %s)", e.Kind, e.Seq, e.Message)
	}
	return fmt.Sprintf("%s(seq=%d)", e.Kind, e.Seq)
}
