package model

import (
	"sort"
	"time"
)

// RunStatus represents the current status of a run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusTimedOut  RunStatus = "timed_out"
)

// Terminal reports whether no further transitions are possible
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusTimedOut
}

// ErrorClass groups failure reasons so the driver can map them to exit codes
type ErrorClass string

const (
	ErrorClassNone             ErrorClass = ""
	ErrorClassValidation       ErrorClass = "validation"
	ErrorClassEngineStart      ErrorClass = "engine_start"
	ErrorClassHandler          ErrorClass = "handler"
	ErrorClassSwitch           ErrorClass = "switch"
	ErrorClassInvalidState     ErrorClass = "invalid_state"
	ErrorClassUnspecifiedEvent ErrorClass = "unspecified_event"
	ErrorClassEngine           ErrorClass = "engine"
	ErrorClassTimeout          ErrorClass = "timeout"
	ErrorClassCanceled         ErrorClass = "canceled"
)

// Stats is a flat mapping of stat name to value
type Stats map[string]float64

// Clone returns a copy that shares nothing with s
func (s Stats) Clone() Stats {
	if s == nil {
		return nil
	}
	out := make(Stats, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Keys returns the stat names in sorted order
func (s Stats) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RunRecord is the outcome of one descriptor's execution
type RunRecord struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Index      int        `json:"index"`
	Status     RunStatus  `json:"status"`
	ErrorClass ErrorClass `json:"error_class,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	ExitCode   int        `json:"exit_code"`
	Stats      Stats      `json:"stats,omitempty"`
	Dumps      []Stats    `json:"dumps,omitempty"`
	Events     int        `json:"events"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	WallTime    time.Duration `json:"wall_time_ns"`
}

// Failed reports whether the record counts against the batch
func (r *RunRecord) Failed() bool {
	return r.Status == RunStatusFailed
}
