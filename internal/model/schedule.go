package model

import (
	"time"
)

// SweepSchedule re-runs the batch described by an experiment file
type SweepSchedule struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Expression  string     `json:"expression"`
	ConfigPath  string     `json:"config_path"`
	LastStatus  RunStatus  `json:"last_status,omitempty"`
	LastRunTime *time.Time `json:"last_run_time,omitempty"`
	NextRunTime *time.Time `json:"next_run_time,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
