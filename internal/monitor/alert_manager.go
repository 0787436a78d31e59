// Package monitor raises alerts about runs and samples the host while a
// batch executes.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/model"
)

// ErrRuleNotFound is returned for unknown rule IDs
var ErrRuleNotFound = errors.New("alert rule not found")

// Notifier delivers alerts, e.g. by publishing them on NATS
type Notifier interface {
	PublishAlert(ctx context.Context, alert *model.Alert) error
}

// AlertManager evaluates alert rules against finished runs and host samples
type AlertManager struct {
	logger    *zap.Logger
	notifiers []Notifier
	rules     sync.Map

	mu     sync.Mutex
	alerts []*model.Alert
}

// NewAlertManager creates a new alert manager
func NewAlertManager(logger *zap.Logger, notifiers ...Notifier) *AlertManager {
	return &AlertManager{
		logger:    logger.Named("alert-manager"),
		notifiers: notifiers,
	}
}

// GetRule returns a rule by ID
func (m *AlertManager) GetRule(id string) (*model.AlertRule, error) {
	value, ok := m.rules.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return value.(*model.AlertRule), nil
}

// Rules returns all rules sorted by ID
func (m *AlertManager) Rules() []*model.AlertRule {
	var rules []*model.AlertRule
	m.rules.Range(func(_, value any) bool {
		rules = append(rules, value.(*model.AlertRule))
		return true
	})
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// AddRule adds a new alert rule
func (m *AlertManager) AddRule(rule *model.AlertRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt
	m.rules.Store(rule.ID, rule)
	return nil
}

// UpdateRule updates an existing alert rule
func (m *AlertManager) UpdateRule(rule *model.AlertRule) error {
	if _, ok := m.rules.Load(rule.ID); !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	if err := validateRule(rule); err != nil {
		return err
	}
	rule.UpdatedAt = time.Now()
	m.rules.Store(rule.ID, rule)
	return nil
}

// DeleteRule deletes an alert rule
func (m *AlertManager) DeleteRule(id string) error {
	if _, ok := m.rules.Load(id); !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	m.rules.Delete(id)
	return nil
}

// Alerts returns the alerts raised so far, oldest first
func (m *AlertManager) Alerts() []*model.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Alert(nil), m.alerts...)
}

func validateRule(rule *model.AlertRule) error {
	switch rule.Type {
	case model.AlertTypeRunFailure, model.AlertTypeRunTimeout:
	case model.AlertTypeSlowRun:
		if _, err := time.ParseDuration(rule.Duration); err != nil {
			return fmt.Errorf("invalid duration in slow run rule %q: %w", rule.Name, err)
		}
	case model.AlertTypeHostUsage:
		if rule.Threshold <= 0 || rule.Threshold > 100 {
			return fmt.Errorf("host usage rule %q needs a threshold in (0, 100]", rule.Name)
		}
	default:
		return fmt.Errorf("unknown alert type %q", rule.Type)
	}
	return nil
}

// Store evaluates the run rules against a finished record. It lets the
// manager act as an orchestrator sink.
func (m *AlertManager) Store(ctx context.Context, batch string, rec *model.RunRecord) error {
	var errs []error
	m.rules.Range(func(_, value any) bool {
		rule := value.(*model.AlertRule)
		if rule.Silenced {
			return true
		}

		data := map[string]any{
			"batch":  batch,
			"run":    rec.Label,
			"status": string(rec.Status),
		}
		fire := false
		switch rule.Type {
		case model.AlertTypeRunFailure:
			if rec.Status == model.RunStatusFailed {
				fire = true
				data["error_class"] = string(rec.ErrorClass)
				data["reason"] = rec.Reason
			}
		case model.AlertTypeRunTimeout:
			fire = rec.Status == model.RunStatusTimedOut
		case model.AlertTypeSlowRun:
			limit, _ := time.ParseDuration(rule.Duration)
			if rec.WallTime > limit {
				fire = true
				data["wall_time"] = rec.WallTime.String()
			}
		}
		if fire {
			if err := m.createAlert(ctx, rule, fmt.Sprintf("%s: %s", rule.Name, rec.Label), data); err != nil {
				errs = append(errs, err)
			}
		}
		return true
	})
	return errors.Join(errs...)
}

// ObserveHost evaluates the host usage rules against a sample
func (m *AlertManager) ObserveHost(ctx context.Context, stats model.HostStats) error {
	var errs []error
	m.rules.Range(func(_, value any) bool {
		rule := value.(*model.AlertRule)
		if rule.Silenced || rule.Type != model.AlertTypeHostUsage {
			return true
		}
		if stats.CPUUsage > rule.Threshold {
			errs = append(errs, m.createAlert(ctx, rule, rule.Name+": cpu", map[string]any{
				"cpu_usage":   stats.CPUUsage,
				"active_runs": stats.ActiveRuns,
			}))
		}
		if stats.MemoryUsage > rule.Threshold {
			errs = append(errs, m.createAlert(ctx, rule, rule.Name+": memory", map[string]any{
				"memory_usage": stats.MemoryUsage,
				"active_runs":  stats.ActiveRuns,
			}))
		}
		return true
	})
	return errors.Join(errs...)
}

func (m *AlertManager) createAlert(ctx context.Context, rule *model.AlertRule, msg string, data map[string]any) error {
	alert := &model.Alert{
		ID:        uuid.New().String(),
		RuleID:    rule.ID,
		Type:      rule.Type,
		Severity:  rule.Severity,
		Message:   msg,
		Data:      data,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	m.mu.Unlock()

	m.logger.Info("Alert created",
		zap.String("id", alert.ID),
		zap.String("rule_id", alert.RuleID),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)))

	for _, n := range m.notifiers {
		if err := n.PublishAlert(ctx, alert); err != nil {
			return fmt.Errorf("failed to publish alert: %w", err)
		}
	}
	return nil
}
