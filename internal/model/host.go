package model

import "time"

// HostStats is a sample of the machine running the batch
type HostStats struct {
	ActiveRuns  int       `json:"active_runs"`
	CPUUsage    float64   `json:"cpu_usage"`
	MemoryUsage float64   `json:"memory_usage"`
	CollectedAt time.Time `json:"collected_at"`
}
