package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sarchlab/akita/v4/sim"
	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/components"
	"github.com/t77yq/multisim/internal/model"
	"github.com/t77yq/multisim/internal/system"
)

// tickFreq is the resolution simTicks are reported in
const tickFreq = 1e12

// hardware is the simulated system of one run. It is only touched by the
// run's engine goroutine, or by the driver while the run is suspended.
type hardware interface {
	sim.Handler
	stats(now sim.VTimeInSec) model.Stats
	reset(now sim.VTimeInSec)
	switchCPU(to *components.Component) error
}

// Option configures an AkitaEngine
type Option func(*AkitaEngine)

// WithSeed sets the base seed of the per-run random sources
func WithSeed(seed uint64) Option {
	return func(e *AkitaEngine) { e.seed = seed }
}

// WithMaxSimTime makes runs suspend with a max_tick event once the
// simulated clock passes seconds.
func WithMaxSimTime(seconds float64) Option {
	return func(e *AkitaEngine) { e.maxSimTime = sim.VTimeInSec(seconds) }
}

// AkitaEngine runs every descriptor on its own akita serial engine, so
// concurrent runs share no simulation state.
type AkitaEngine struct {
	logger     *zap.Logger
	seed       uint64
	maxSimTime sim.VTimeInSec
	runs       sync.Map // RunHandle -> *run, until stopped
	finals     sync.Map // RunHandle -> model.Stats of stopped runs
}

// NewAkitaEngine creates a new engine
func NewAkitaEngine(logger *zap.Logger, opts ...Option) *AkitaEngine {
	e := &AkitaEngine{logger: logger.Named("engine")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Capabilities implements Engine
func (e *AkitaEngine) Capabilities() Capabilities {
	return Capabilities{ProcessorSwitch: true}
}

// Start implements Engine
func (e *AkitaEngine) Start(ctx context.Context, d *system.Descriptor) (RunHandle, error) {
	if d == nil {
		return "", &EngineStartError{Err: errors.New("no descriptor")}
	}
	if err := ctx.Err(); err != nil {
		return "", &EngineStartError{Label: d.Label(), Err: err}
	}
	if w := d.Workload(); w != nil {
		if err := w.Ready(); err != nil {
			return "", &EngineStartError{Label: d.Label(), Err: err}
		}
	}

	r := &run{
		handle:     RunHandle(uuid.NewString()),
		label:      d.Label(),
		sim:        sim.NewSerialEngine(),
		counter:    &eventCounter{},
		maxSimTime: e.maxSimTime,
		events:     make(chan model.ExitEvent),
		resume:     make(chan struct{}),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	r.logger = e.logger.With(zap.String("run", r.label), zap.String("handle", string(r.handle)))
	r.sim.AcceptHook(r.counter)

	var err error
	if components.IsGenerator(d.Processor()) {
		r.hw, err = newGeneratorModel(r, d, seedFor(d.Label(), e.seed))
	} else {
		r.hw, err = newCoreModel(r, d)
	}
	if err != nil {
		return "", &EngineStartError{Label: d.Label(), Err: err}
	}

	e.runs.Store(r.handle, r)
	r.schedule(0, r.hw)
	go r.loop()

	r.logger.Info("Run started", zap.String("system", d.String()))
	return r.handle, nil
}

// lookup returns the live run of h, or ErrRunFinished once h was stopped
func (e *AkitaEngine) lookup(h RunHandle) (*run, error) {
	if v, ok := e.runs.Load(h); ok {
		return v.(*run), nil
	}
	if _, ok := e.finals.Load(h); ok {
		return nil, ErrRunFinished
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownRun, h)
}

// NextEvent implements Engine
func (e *AkitaEngine) NextEvent(ctx context.Context, h RunHandle) (model.ExitEvent, error) {
	r, err := e.lookup(h)
	if err != nil {
		return model.ExitEvent{}, err
	}

	r.mu.Lock()
	pending := r.pending
	r.mu.Unlock()
	if pending {
		return model.ExitEvent{}, ErrPendingResume
	}

	select {
	case ev := <-r.events:
		r.mu.Lock()
		r.pending = true
		r.mu.Unlock()
		r.logger.Debug("Exit event", zap.Uint64("seq", ev.Seq), zap.String("kind", string(ev.Kind)))
		return ev, nil
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.err != nil {
			return model.ExitEvent{}, fmt.Errorf("engine failed: %w", r.err)
		}
		return model.ExitEvent{}, ErrRunFinished
	case <-ctx.Done():
		return model.ExitEvent{}, ctx.Err()
	}
}

// Resume implements Engine
func (e *AkitaEngine) Resume(h RunHandle) error {
	r, err := e.lookup(h)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if !r.pending {
		r.mu.Unlock()
		return ErrNotSuspended
	}
	r.pending = false
	r.mu.Unlock()

	select {
	case r.resume <- struct{}{}:
		return nil
	case <-r.done:
		return ErrRunFinished
	}
}

// Stop implements Engine. The run's simulation state is released and only
// its final stats are kept.
func (e *AkitaEngine) Stop(h RunHandle) error {
	r, err := e.lookup(h)
	if errors.Is(err, ErrRunFinished) {
		return nil
	}
	if err != nil {
		return err
	}

	r.stopOnce.Do(func() {
		close(r.stopCh)
		<-r.done
		r.mu.Lock()
		r.pending = false
		r.mu.Unlock()
		r.logger.Info("Run stopped",
			zap.Uint64("events", r.counter.n.Load()),
			zap.Float64("sim_time", float64(r.sim.CurrentTime())))
	})
	<-r.done

	r.mu.Lock()
	final := r.final
	r.mu.Unlock()
	// finals first, so a concurrent lookup never misses both maps
	e.finals.Store(h, final)
	e.runs.Delete(h)
	return nil
}

// Stats implements Engine
func (e *AkitaEngine) Stats(h RunHandle) (model.Stats, error) {
	r, err := e.lookup(h)
	if errors.Is(err, ErrRunFinished) {
		v, _ := e.finals.Load(h)
		return v.(model.Stats).Clone(), nil
	}
	if err != nil {
		return nil, err
	}

	select {
	case <-r.done:
	default:
		return nil, ErrRunNotFinished
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final.Clone(), nil
}

// DumpStats implements Engine
func (e *AkitaEngine) DumpStats(h RunHandle) (model.Stats, error) {
	r, err := e.lookup(h)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending {
		return nil, ErrNotSuspended
	}
	return r.hw.stats(r.sim.CurrentTime()), nil
}

// ResetStats implements Engine
func (e *AkitaEngine) ResetStats(h RunHandle) error {
	r, err := e.lookup(h)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending {
		return ErrNotSuspended
	}
	r.hw.reset(r.sim.CurrentTime())
	return nil
}

// SwitchProcessor implements Engine
func (e *AkitaEngine) SwitchProcessor(h RunHandle, to *components.Component) error {
	r, err := e.lookup(h)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending {
		return ErrNotSuspended
	}
	if err := r.hw.switchCPU(to); err != nil {
		return err
	}
	r.logger.Info("Processor switched", zap.String("to", to.Name()))
	return nil
}

// run is the per-handle state of one simulation
type run struct {
	handle     RunHandle
	label      string
	logger     *zap.Logger
	sim        *sim.SerialEngine
	hw         hardware
	counter    *eventCounter
	maxSimTime sim.VTimeInSec
	maxTicked  bool

	events   chan model.ExitEvent
	resume   chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	seq     uint64
	pending bool
	final   model.Stats
	err     error
}

func (r *run) loop() {
	defer close(r.done)
	defer func() {
		if p := recover(); p != nil {
			r.mu.Lock()
			r.err = fmt.Errorf("engine panic: %v", p)
			r.mu.Unlock()
			r.logger.Error("Engine panicked", zap.Any("panic", p))
		}
		r.finish()
	}()

	if err := r.sim.Run(); err != nil {
		r.fail(err)
	}
}

func (r *run) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.final = r.hw.stats(r.sim.CurrentTime())
	r.final["engineEvents"] = float64(r.counter.n.Load())
}

// fail records a model error and stops further scheduling
func (r *run) fail(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
	r.logger.Error("Run failed inside engine", zap.Error(err))
}

func (r *run) failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err != nil
}

func (r *run) stopRequested() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

func (r *run) schedule(t sim.VTimeInSec, h sim.Handler) {
	if r.stopRequested() || r.failed() {
		return
	}
	r.sim.Schedule(sim.NewEventBase(t, h))
}

// suspend hands an exit event to the driver and blocks until it resumes the
// run. It returns false when the run was stopped instead.
func (r *run) suspend(kind model.EventKind, code int, msg string, now sim.VTimeInSec) bool {
	if r.stopRequested() {
		return false
	}

	r.mu.Lock()
	r.seq++
	ev := model.ExitEvent{
		Seq:     r.seq,
		Kind:    kind,
		Code:    code,
		Message: msg,
		SimTime: float64(now),
	}
	r.mu.Unlock()

	select {
	case r.events <- ev:
	case <-r.stopCh:
		return false
	}

	select {
	case <-r.resume:
		return true
	case <-r.stopCh:
		return false
	}
}

// checkMaxTick suspends once with a max_tick event when the simulated time
// limit is reached.
func (r *run) checkMaxTick(now sim.VTimeInSec) bool {
	if r.maxSimTime <= 0 || r.maxTicked || now < r.maxSimTime {
		return true
	}
	r.maxTicked = true
	return r.suspend(model.EventMaxTick, 0, "simulated time limit reached", now)
}

// eventCounter counts the events the serial engine has processed
type eventCounter struct {
	n atomic.Uint64
}

func (c *eventCounter) Func(ctx sim.HookCtx) {
	if ctx.Pos == sim.HookPosAfterEvent {
		c.n.Add(1)
	}
}

func seedFor(label string, seed uint64) uint64 {
	h := fnv.New64a()
	h.Write([]byte(label))
	return h.Sum64() ^ seed
}
