package handler

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/dispatch"
	"github.com/t77yq/multisim/internal/model"
	"github.com/t77yq/multisim/internal/storage"
	"github.com/t77yq/multisim/internal/switching"
)

// action is one side effect performed inside a step
type action func(hc *dispatch.Context, ev model.ExitEvent, sw *switching.Controller) error

// Builder turns specs into dispatch factories
type Builder struct {
	logger *zap.Logger
	stats  *storage.StatsWriter
	client *http.Client
}

// Option configures a Builder
type Option func(*Builder)

// WithStatsWriter enables the checkpoint action
func WithStatsWriter(w *storage.StatsWriter) Option {
	return func(b *Builder) { b.stats = w }
}

// WithHTTPClient sets the client used by webhook actions
func WithHTTPClient(c *http.Client) Option {
	return func(b *Builder) { b.client = c }
}

// NewBuilder creates a new handler builder
func NewBuilder(logger *zap.Logger, opts ...Option) *Builder {
	b := &Builder{
		logger: logger.Named("handler"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type stepPlan struct {
	actions   []action
	directive dispatch.Directive
}

type handlerPlan struct {
	kind      model.EventKind
	mode      Mode
	exhausted dispatch.Exhaustion
	steps     []stepPlan
}

// Factory validates spec and returns a factory producing a fresh table, with
// its own switching controller, for every run
func (b *Builder) Factory(spec Spec) (dispatch.Factory, error) {
	kinds := make([]string, 0, len(spec))
	for k := range spec {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	plans := make([]handlerPlan, 0, len(spec))
	for _, k := range kinds {
		plan, err := b.plan(k, spec[k])
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}

	b.logger.Debug("Built handler factory", zap.Strings("kinds", kinds))

	return func() dispatch.Table {
		sw := switching.NewController()
		table := make(dispatch.Table, len(plans))
		for _, p := range plans {
			table[p.kind] = p.instantiate(sw)
		}
		return table
	}, nil
}

func (b *Builder) plan(kind string, hs HandlerSpec) (handlerPlan, error) {
	k, err := model.ParseEventKind(kind)
	if err != nil {
		return handlerPlan{}, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if len(hs.Steps) == 0 {
		return handlerPlan{}, fmt.Errorf("%w: handler for %s has no steps", ErrInvalidSpec, k)
	}

	mode := hs.Mode
	switch mode {
	case "":
		mode = ModeSequence
	case ModeSequence, ModeSingleShot, ModeRepeat:
	default:
		return handlerPlan{}, fmt.Errorf("%w: unknown mode %q for %s", ErrInvalidSpec, mode, k)
	}
	hs.Mode = mode

	exhausted, err := hs.exhaustion()
	if err != nil {
		return handlerPlan{}, err
	}

	plan := handlerPlan{kind: k, mode: mode, exhausted: exhausted}
	for i, s := range hs.Steps {
		dir, err := s.directive()
		if err != nil {
			return handlerPlan{}, fmt.Errorf("%s step %d: %w", k, i, err)
		}
		step := stepPlan{directive: dir}
		for _, as := range s.Actions {
			act, err := b.action(as)
			if err != nil {
				return handlerPlan{}, fmt.Errorf("%s step %d: %w", k, i, err)
			}
			step.actions = append(step.actions, act)
		}
		plan.steps = append(plan.steps, step)
	}
	return plan, nil
}

func (b *Builder) action(as ActionSpec) (action, error) {
	if err := as.validate(); err != nil {
		return nil, err
	}

	switch as.Type {
	case ActionDumpStats:
		return func(hc *dispatch.Context, _ model.ExitEvent, _ *switching.Controller) error {
			_, err := hc.DumpStats()
			return err
		}, nil
	case ActionResetStats:
		return func(hc *dispatch.Context, _ model.ExitEvent, _ *switching.Controller) error {
			return hc.ResetStats()
		}, nil
	case ActionSwitch:
		return func(hc *dispatch.Context, _ model.ExitEvent, sw *switching.Controller) error {
			return sw.Switch(hc)
		}, nil
	case ActionResetSwitch:
		return func(hc *dispatch.Context, _ model.ExitEvent, sw *switching.Controller) error {
			return sw.Reset(hc)
		}, nil
	case ActionCheckpoint:
		if b.stats == nil {
			return nil, fmt.Errorf("%w: checkpoint action needs a stats directory", ErrInvalidSpec)
		}
		w := b.stats
		return func(hc *dispatch.Context, ev model.ExitEvent, _ *switching.Controller) error {
			stats, err := hc.Engine.DumpStats(hc.Handle)
			if err != nil {
				return err
			}
			_, err = w.WriteCheckpoint(hc.Label(), ev, stats)
			return err
		}, nil
	case ActionLog:
		msg := as.Message
		return func(hc *dispatch.Context, ev model.ExitEvent, _ *switching.Controller) error {
			hc.Logger.Info(msg,
				zap.String("kind", string(ev.Kind)),
				zap.Uint64("seq", ev.Seq),
				zap.Float64("sim_time", ev.SimTime))
			return nil
		}, nil
	case ActionExec:
		sc := &shellCommand{spec: as}
		return external(as, sc.run), nil
	case ActionWebhook:
		wh := &webhook{spec: as, client: b.client}
		return external(as, wh.run), nil
	}
	return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidSpec, as.Type)
}

// external wraps an action that reaches outside the simulation. Unless it
// is required, its failure does not change the directive.
func external(as ActionSpec, run func(*dispatch.Context, model.ExitEvent) error) action {
	return func(hc *dispatch.Context, ev model.ExitEvent, _ *switching.Controller) error {
		err := run(hc, ev)
		if err == nil || as.Required {
			return err
		}
		hc.Logger.Warn("Action failed, continuing",
			zap.String("action", string(as.Type)),
			zap.String("kind", string(ev.Kind)),
			zap.Uint64("seq", ev.Seq),
			zap.Error(err))
		return nil
	}
}

func (p handlerPlan) instantiate(sw *switching.Controller) dispatch.Handler {
	steps := make([]dispatch.Handler, len(p.steps))
	for i, s := range p.steps {
		steps[i] = s.handler(sw)
	}

	switch p.mode {
	case ModeRepeat:
		return dispatch.Repeat(steps...)
	case ModeSingleShot:
		if len(steps) == 1 {
			return dispatch.SingleShot(steps[0]).OnExhausted(p.exhausted)
		}
	}
	return dispatch.NewSequence(steps...).OnExhausted(p.exhausted)
}

func (s stepPlan) handler(sw *switching.Controller) dispatch.Handler {
	return dispatch.HandlerFunc(func(hc *dispatch.Context, ev model.ExitEvent) (dispatch.Directive, error) {
		for _, act := range s.actions {
			if err := act(hc, ev, sw); err != nil {
				return dispatch.Directive{}, err
			}
		}
		return s.directive, nil
	})
}
