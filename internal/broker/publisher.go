// Package broker streams run records, alerts and host samples over NATS
// JetStream.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/model"
)

const (
	// StreamName is the JetStream stream holding everything published here
	StreamName = "MULTISIM"

	// DefaultPrefix is the subject prefix when none is configured
	DefaultPrefix = "multisim"
)

// RecordEnvelope is the message body of a published run record
type RecordEnvelope struct {
	Batch  string           `json:"batch"`
	Record *model.RunRecord `json:"record"`
}

// Publisher publishes to the MULTISIM stream
type Publisher struct {
	logger *zap.Logger
	js     nats.JetStreamContext
	prefix string
}

// NewPublisher creates the stream if needed
func NewPublisher(js nats.JetStreamContext, prefix string, logger *zap.Logger) (*Publisher, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	p := &Publisher{
		logger: logger.Named("publisher"),
		js:     js,
		prefix: prefix,
	}
	if err := p.setup(); err != nil {
		return nil, err
	}
	return p, nil
}

// RecordSubject returns the subject records of batch are published on
func (p *Publisher) RecordSubject(batch string) string {
	return fmt.Sprintf("%s.run.%s", p.prefix, batch)
}

// AlertSubject returns the subject alerts of type t are published on
func (p *Publisher) AlertSubject(t model.AlertType) string {
	return fmt.Sprintf("%s.alert.%s", p.prefix, t)
}

// HostSubject returns the subject host samples are published on
func (p *Publisher) HostSubject() string {
	return p.prefix + ".host"
}

func (p *Publisher) setup() error {
	subjects := []string{p.prefix + ".>"}

	info, err := p.js.StreamInfo(StreamName)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	if info == nil {
		_, err = p.js.AddStream(&nats.StreamConfig{
			Name:       StreamName,
			Subjects:   subjects,
			Retention:  nats.LimitsPolicy,
			MaxAge:     7 * 24 * time.Hour,
			MaxMsgs:    -1,
			MaxBytes:   -1,
			Discard:    nats.DiscardOld,
			MaxMsgSize: 1 * 1024 * 1024,
			Storage:    nats.FileStorage,
			Replicas:   1,
			Duplicates: time.Hour,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream %s: %w", StreamName, err)
		}
		p.logger.Info("Created stream", zap.String("name", StreamName))
		return nil
	}

	config := info.Config
	config.Subjects = subjects
	if _, err := p.js.UpdateStream(&config); err != nil {
		return fmt.Errorf("failed to update stream %s: %w", StreamName, err)
	}
	p.logger.Info("Updated stream", zap.String("name", StreamName))
	return nil
}

// Store publishes rec; it lets the publisher act as an orchestrator sink.
// The record ID is the message ID so redeliveries are deduplicated.
func (p *Publisher) Store(ctx context.Context, batch string, rec *model.RunRecord) error {
	data, err := json.Marshal(RecordEnvelope{Batch: batch, Record: rec})
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}

	if _, err := p.js.Publish(p.RecordSubject(batch), data, nats.Context(ctx), nats.MsgId(rec.ID)); err != nil {
		p.logger.Error("Failed to publish run record",
			zap.String("run", rec.Label),
			zap.Error(err))
		return err
	}

	p.logger.Debug("Run record published",
		zap.String("run", rec.Label),
		zap.String("status", string(rec.Status)))
	return nil
}

// PublishAlert publishes an alert
func (p *Publisher) PublishAlert(ctx context.Context, alert *model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if _, err := p.js.Publish(p.AlertSubject(alert.Type), data, nats.Context(ctx), nats.MsgId(alert.ID)); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// PublishHostStats publishes a host sample
func (p *Publisher) PublishHostStats(ctx context.Context, stats model.HostStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal host stats: %w", err)
	}
	if _, err := p.js.Publish(p.HostSubject(), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish host stats: %w", err)
	}
	return nil
}
