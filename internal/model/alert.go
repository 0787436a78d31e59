package model

import "time"

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityError    AlertSeverity = "error"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertType represents the type of alert
type AlertType string

const (
	AlertTypeRunFailure AlertType = "run_failure"
	AlertTypeRunTimeout AlertType = "run_timeout"
	AlertTypeSlowRun    AlertType = "slow_run"
	AlertTypeHostUsage  AlertType = "host_usage"
)

// AlertRule defines a rule for generating alerts
type AlertRule struct {
	ID        string        `json:"id" mapstructure:"id"`
	Name      string        `json:"name" mapstructure:"name"`
	Type      AlertType     `json:"type" mapstructure:"type"`
	Duration  string        `json:"duration,omitempty" mapstructure:"duration"`
	Threshold float64       `json:"threshold,omitempty" mapstructure:"threshold"`
	Severity  AlertSeverity `json:"severity" mapstructure:"severity"`
	Silenced  bool          `json:"silenced" mapstructure:"silenced"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Alert represents an alert event
type Alert struct {
	ID        string                 `json:"id"`
	RuleID    string                 `json:"rule_id"`
	Type      AlertType              `json:"type"`
	Severity  AlertSeverity          `json:"severity"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
