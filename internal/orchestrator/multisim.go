// Package orchestrator fans descriptors out over a bounded set of concurrent
// runs and collects one record per descriptor.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/dispatch"
	"github.com/t77yq/multisim/internal/engine"
	"github.com/t77yq/multisim/internal/model"
	"github.com/t77yq/multisim/internal/system"
)

// Job is one descriptor to run. Handlers builds the run's handler table; a
// nil factory runs with default actions only.
type Job struct {
	Descriptor *system.Descriptor
	Handlers   dispatch.Factory
	// Timeout overrides Config.RunTimeout when positive
	Timeout time.Duration
}

// Sink receives every finished record, e.g. to persist or publish it
type Sink interface {
	Store(ctx context.Context, batch string, rec *model.RunRecord) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, batch string, rec *model.RunRecord) error

// Store implements Sink
func (f SinkFunc) Store(ctx context.Context, batch string, rec *model.RunRecord) error {
	return f(ctx, batch, rec)
}

// Config defines configuration for the orchestrator
type Config struct {
	MaxParallel int
	RunTimeout  time.Duration
}

// MultiSim runs batches of descriptors on one engine
type MultiSim struct {
	logger     *zap.Logger
	engine     engine.Engine
	dispatcher *dispatch.Dispatcher
	config     Config
	admission  *admission
	sinks      []Sink
}

// Option configures a MultiSim
type Option func(*options)

type options struct {
	sinks     []Sink
	observers []dispatch.Observer
}

// WithSink adds a sink for finished records
func WithSink(s Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// WithObserver adds a dispatch observer to every run
func WithObserver(obs dispatch.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// NewMultiSim creates a new orchestrator
func NewMultiSim(eng engine.Engine, config Config, logger *zap.Logger, opts ...Option) (*MultiSim, error) {
	if config.MaxParallel <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidParallelism, config.MaxParallel)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &MultiSim{
		logger:     logger.Named("multisim"),
		engine:     eng,
		dispatcher: dispatch.NewDispatcher(eng, logger, o.observers...),
		config:     config,
		admission:  newAdmission(config.MaxParallel, logger),
		sinks:      o.sinks,
	}, nil
}

// Active returns the number of runs currently admitted
func (m *MultiSim) Active() int {
	return int(m.admission.active.Load())
}

// Peak returns the highest number of simultaneously admitted runs
func (m *MultiSim) Peak() int {
	return int(m.admission.peak.Load())
}

// Running returns the labels of the runs currently admitted
func (m *MultiSim) Running() []string {
	return m.admission.labels()
}

// SubmitOption configures one batch
type SubmitOption func(*submitOptions)

type submitOptions struct {
	maxParallel    int
	maxParallelSet bool
}

// WithMaxParallel bounds the concurrent runs of one batch. Config.MaxParallel
// still caps the runs of all batches together.
func WithMaxParallel(n int) SubmitOption {
	return func(o *submitOptions) {
		o.maxParallel = n
		o.maxParallelSet = true
	}
}

// Submit starts the jobs and returns immediately. Jobs are admitted in
// submission order as slots free up. Canceling ctx fails runs that have not
// been admitted yet and cancels those in flight.
func (m *MultiSim) Submit(ctx context.Context, jobs []Job, opts ...SubmitOption) *Batch {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	b := newBatch(uuid.New().String(), len(jobs))
	logger := m.logger.With(zap.String("batch", b.ID))

	if o.maxParallelSet && o.maxParallel <= 0 {
		err := fmt.Errorf("%w: %d", ErrInvalidParallelism, o.maxParallel)
		logger.Error("Rejecting batch", zap.Error(err))
		go func() {
			for i, job := range jobs {
				rec := abortedRecord(jobLabel(job, i), i, err)
				rec.ErrorClass = model.ErrorClassValidation
				m.complete(ctx, b, rec)
			}
		}()
		return b
	}

	limit := m.config.MaxParallel
	var local *admission
	if o.maxParallelSet {
		local = newAdmission(o.maxParallel, logger)
		limit = min(limit, o.maxParallel)
	}
	logger.Info("Submitting batch",
		zap.Int("jobs", len(jobs)),
		zap.Int("max_parallel", limit))

	go func() {
		for i, job := range jobs {
			label := jobLabel(job, i)
			if err := m.admit(ctx, local, label); err != nil {
				logger.Warn("Batch canceled before all runs were admitted",
					zap.Int("admitted", i),
					zap.Error(err))
				for j := i; j < len(jobs); j++ {
					m.complete(ctx, b, abortedRecord(jobLabel(jobs[j], j), j, err))
				}
				return
			}
			go m.runJob(ctx, b, i, job, label, local)
		}
	}()

	return b
}

// Run is Submit followed by Wait
func (m *MultiSim) Run(ctx context.Context, jobs []Job, opts ...SubmitOption) ([]*model.RunRecord, error) {
	b := m.Submit(ctx, jobs, opts...)
	records := b.Wait()
	return records, b.Err()
}

// admit takes a slot of the batch, when it has its own bound, then a slot of
// the orchestrator
func (m *MultiSim) admit(ctx context.Context, local *admission, label string) error {
	if local != nil {
		if err := local.acquire(ctx, label); err != nil {
			return err
		}
	}
	if err := m.admission.acquire(ctx, label); err != nil {
		if local != nil {
			local.release(label)
		}
		return err
	}
	return nil
}

func (m *MultiSim) runJob(ctx context.Context, b *Batch, index int, job Job, label string, local *admission) {
	defer func() {
		m.admission.release(label)
		if local != nil {
			local.release(label)
		}
	}()

	rec := m.execute(ctx, index, job, label)
	m.complete(ctx, b, rec)
}

// execute runs one job in isolation. Panics escaping the dispatcher become a
// failed record instead of taking down the batch.
func (m *MultiSim) execute(ctx context.Context, index int, job Job, label string) (rec *model.RunRecord) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("Run panicked", zap.String("run", label), zap.Any("panic", p))
			rec = abortedRecord(label, index, fmt.Errorf("panic: %v", p))
			rec.ErrorClass = model.ErrorClassEngine
		}
	}()

	if job.Descriptor == nil {
		rec = abortedRecord(label, index, ErrNoDescriptor)
		rec.ErrorClass = model.ErrorClassValidation
		return rec
	}

	timeout := m.config.RunTimeout
	if job.Timeout > 0 {
		timeout = job.Timeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	table := dispatch.Table{}
	if job.Handlers != nil {
		table = job.Handlers()
	}

	// the error is already folded into the record
	rec, _ = m.dispatcher.Run(runCtx, job.Descriptor, table)
	rec.Index = index
	return rec
}

func (m *MultiSim) complete(ctx context.Context, b *Batch, rec *model.RunRecord) {
	for _, s := range m.sinks {
		if err := s.Store(context.WithoutCancel(ctx), b.ID, rec); err != nil {
			m.logger.Error("Failed to store run record",
				zap.String("run", rec.Label),
				zap.Error(err))
		}
	}
	if b.remaining.Add(-1) == 0 {
		m.logger.Info("Batch finished",
			zap.String("batch", b.ID),
			zap.Int("jobs", b.Len()))
	}
	b.add(rec)
}

func jobLabel(job Job, index int) string {
	if job.Descriptor == nil {
		return fmt.Sprintf("job-%d", index)
	}
	return job.Descriptor.Label()
}

func abortedRecord(label string, index int, err error) *model.RunRecord {
	now := time.Now()
	rec := &model.RunRecord{
		ID:          uuid.New().String(),
		Label:       label,
		Index:       index,
		Status:      model.RunStatusFailed,
		ErrorClass:  model.ErrorClassCanceled,
		Reason:      err.Error(),
		ExitCode:    1,
		StartedAt:   now,
		CompletedAt: now,
	}
	if errors.Is(err, context.DeadlineExceeded) {
		rec.Status = model.RunStatusTimedOut
		rec.ErrorClass = model.ErrorClassTimeout
	}
	return rec
}
