// Package dispatch drives a single run: it waits for exit events, routes
// them to handlers and applies the directives they return.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/engine"
	"github.com/t77yq/multisim/internal/model"
	"github.com/t77yq/multisim/internal/system"
)

// Observer is notified of every handled event, in order
type Observer interface {
	OnEvent(label string, ev model.ExitEvent, d Directive)
}

// Dispatcher runs descriptors on an engine
type Dispatcher struct {
	logger    *zap.Logger
	engine    engine.Engine
	observers []Observer
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(eng engine.Engine, logger *zap.Logger, observers ...Observer) *Dispatcher {
	return &Dispatcher{
		logger:    logger.Named("dispatcher"),
		engine:    eng,
		observers: observers,
	}
}

// Run executes d to a terminal state and returns its record. The returned
// error is the cause of a non-completed record and nil otherwise.
func (d *Dispatcher) Run(ctx context.Context, desc *system.Descriptor, table Table) (*model.RunRecord, error) {
	rec := &model.RunRecord{
		ID:        uuid.New().String(),
		Label:     desc.Label(),
		Status:    model.RunStatusRunning,
		StartedAt: time.Now(),
	}
	logger := d.logger.With(zap.String("run", rec.Label))

	h, err := d.engine.Start(ctx, desc)
	if err != nil {
		d.finish(ctx, rec, model.ErrorClassEngineStart, err)
		logger.Error("Failed to start run", zap.Error(err))
		return rec, err
	}

	stop := sync.OnceFunc(func() {
		if err := d.engine.Stop(h); err != nil {
			logger.Error("Failed to stop run", zap.Error(err))
		}
	})
	defer stop()

	hc := &Context{
		Engine:     d.engine,
		Handle:     h,
		Descriptor: desc,
		Logger:     logger,
		ctx:        ctx,
	}

	cause := d.loop(ctx, hc, table, rec)

	stop()
	stats, err := d.engine.Stats(h)
	if err != nil {
		logger.Warn("Failed to collect stats", zap.Error(err))
	}
	rec.Stats = stats
	rec.Dumps = hc.Dumps()

	if cause != nil {
		d.finish(ctx, rec, classify(cause), cause)
		logger.Error("Run failed",
			zap.String("status", string(rec.Status)),
			zap.String("class", string(rec.ErrorClass)),
			zap.Error(cause))
		return rec, cause
	}

	rec.Status = model.RunStatusCompleted
	rec.CompletedAt = time.Now()
	rec.WallTime = rec.CompletedAt.Sub(rec.StartedAt)
	logger.Info("Run completed",
		zap.Int("exit_code", rec.ExitCode),
		zap.Int("events", rec.Events),
		zap.Duration("wall_time", rec.WallTime))
	return rec, nil
}

// loop consumes events until the run terminates. A nil return means the run
// completed; rec.ExitCode is set by Terminate directives.
func (d *Dispatcher) loop(ctx context.Context, hc *Context, table Table, rec *model.RunRecord) error {
	var lastSeq uint64
	for {
		ev, err := d.engine.NextEvent(ctx, hc.Handle)
		if errors.Is(err, engine.ErrRunFinished) {
			return nil
		}
		if err != nil {
			return err
		}

		if ev.Seq <= lastSeq {
			return fmt.Errorf("%w: got %d after %d", ErrOutOfOrder, ev.Seq, lastSeq)
		}
		lastSeq = ev.Seq
		rec.Events++

		dir, err := d.handle(hc, table, ev)
		if err != nil {
			return err
		}
		for _, o := range d.observers {
			o.OnEvent(rec.Label, ev, dir)
		}
		hc.Logger.Debug("Event handled",
			zap.Uint64("seq", ev.Seq),
			zap.String("kind", string(ev.Kind)),
			zap.String("directive", dir.String()))

		switch dir.Action {
		case ActionResume:
			if err := d.engine.Resume(hc.Handle); err != nil {
				return fmt.Errorf("failed to resume after %s: %w", ev, err)
			}
		case ActionTerminate:
			rec.ExitCode = dir.Code
			return nil
		case ActionFail:
			rec.ExitCode = dir.Code
			return &HandlerError{Event: ev, Err: errors.New(dir.Reason)}
		default:
			return &HandlerError{Event: ev, Err: fmt.Errorf("unknown directive %s", dir)}
		}
	}
}

// handle resolves the directive for ev, applying default actions
func (d *Dispatcher) handle(hc *Context, table Table, ev model.ExitEvent) (dir Directive, err error) {
	h, ok := table[ev.Kind]
	if !ok {
		dir, ok = DefaultAction(ev)
		if !ok {
			return Directive{}, &UnspecifiedKindError{Kind: ev.Kind}
		}
		return dir, nil
	}

	defer func() {
		if p := recover(); p != nil {
			err = &HandlerError{Event: ev, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	dir, err = h.Handle(hc, ev)
	if err != nil {
		return Directive{}, &HandlerError{Event: ev, Err: err}
	}
	if dir.Action == ActionDefault {
		dir, ok = DefaultAction(ev)
		if !ok {
			return Directive{}, &UnspecifiedKindError{Kind: ev.Kind}
		}
	}
	return dir, nil
}

func (d *Dispatcher) finish(ctx context.Context, rec *model.RunRecord, class model.ErrorClass, cause error) {
	rec.Status = model.RunStatusFailed
	rec.ErrorClass = class
	rec.Reason = cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		rec.Status = model.RunStatusTimedOut
		rec.ErrorClass = model.ErrorClassTimeout
	} else if errors.Is(cause, context.Canceled) {
		rec.ErrorClass = model.ErrorClassCanceled
	}
	rec.CompletedAt = time.Now()
	rec.WallTime = rec.CompletedAt.Sub(rec.StartedAt)
}

func classify(err error) model.ErrorClass {
	var (
		c           classifier
		unspecified *UnspecifiedKindError
		switchErr   *engine.SwitchError
	)
	switch {
	case errors.As(err, &unspecified):
		return model.ErrorClassUnspecifiedEvent
	case errors.As(err, &switchErr):
		return model.ErrorClassSwitch
	case errors.As(err, &c):
		return c.ErrorClass()
	case errors.Is(err, engine.ErrNotSuspended):
		return model.ErrorClassInvalidState
	}
	var h *HandlerError
	if errors.As(err, &h) {
		return model.ErrorClassHandler
	}
	return model.ErrorClassEngine
}
