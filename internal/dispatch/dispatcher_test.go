package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/multisim/internal/components"
	"github.com/t77yq/multisim/internal/engine"
	"github.com/t77yq/multisim/internal/engine/enginemock"
	"github.com/t77yq/multisim/internal/model"
	"github.com/t77yq/multisim/internal/system"
)

const handle = engine.RunHandle("run-1")

func testDescriptor(t *testing.T) *system.Descriptor {
	t.Helper()
	gen, err := components.LinearGenerator(components.DefaultGeneratorConfig())
	require.NoError(t, err)
	mem, err := components.SingleChannelDDR4_2400("")
	require.NoError(t, err)
	cache, err := components.NoCache(1)
	require.NoError(t, err)
	d, err := system.Build(gen, mem, cache, sim.GHz, nil, system.WithLabel("test"))
	require.NoError(t, err)
	return d
}

func ev(seq uint64, kind model.EventKind) model.ExitEvent {
	return model.ExitEvent{Seq: seq, Kind: kind}
}

// expectEvents makes the mock deliver events in order and then report the
// run as finished
func expectEvents(m *enginemock.MockEngine, events ...model.ExitEvent) {
	calls := make([]any, 0, len(events)+1)
	for _, e := range events {
		calls = append(calls, m.EXPECT().NextEvent(gomock.Any(), handle).Return(e, nil))
	}
	gomock.InOrder(calls...)
}

func resumeHandler(calls *int) HandlerFunc {
	return func(hc *Context, ev model.ExitEvent) (Directive, error) {
		*calls++
		return Resume(), nil
	}
}

func TestDefaultExitAfterWorkRegion(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := enginemock.NewMockEngine(ctrl)

	m.EXPECT().Start(gomock.Any(), gomock.Any()).Return(handle, nil).Times(1)
	expectEvents(m, ev(1, model.EventWorkBegin), ev(2, model.EventWorkEnd), ev(3, model.EventExit))
	m.EXPECT().Resume(handle).Return(nil).Times(2)
	m.EXPECT().Stop(handle).Return(nil).Times(1)
	m.EXPECT().Stats(handle).Return(model.Stats{"simInsts": 42}, nil).Times(1)

	var begins, ends int
	table := Table{
		model.EventWorkBegin: resumeHandler(&begins),
		model.EventWorkEnd:   resumeHandler(&ends),
	}

	rec, err := NewDispatcher(m, zaptest.NewLogger(t)).Run(context.Background(), testDescriptor(t), table)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, rec.Status)
	assert.Equal(t, 0, rec.ExitCode)
	assert.Equal(t, 3, rec.Events)
	assert.Equal(t, float64(42), rec.Stats["simInsts"])
	assert.Equal(t, "test", rec.Label)
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, ends)
}

func TestUnspecifiedKind(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := enginemock.NewMockEngine(ctrl)

	m.EXPECT().Start(gomock.Any(), gomock.Any()).Return(handle, nil)
	expectEvents(m, ev(1, model.EventKind("hypercall")))
	m.EXPECT().Stop(handle).Return(nil).Times(1)
	m.EXPECT().Stats(handle).Return(model.Stats{}, nil)

	rec, err := NewDispatcher(m, zaptest.NewLogger(t)).Run(context.Background(), testDescriptor(t), Table{})
	var unspecified *UnspecifiedKindError
	require.ErrorAs(t, err, &unspecified)
	assert.Equal(t, model.EventKind("hypercall"), unspecified.Kind)
	assert.Equal(t, model.RunStatusFailed, rec.Status)
	assert.Equal(t, model.ErrorClassUnspecifiedEvent, rec.ErrorClass)
	assert.NotEmpty(t, rec.Reason)
}

func TestHandlerPanicStillStops(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := enginemock.NewMockEngine(ctrl)

	m.EXPECT().Start(gomock.Any(), gomock.Any()).Return(handle, nil)
	expectEvents(m, ev(1, model.EventExit))
	m.EXPECT().Stop(handle).Return(nil).Times(1)
	m.EXPECT().Stats(handle).Return(nil, engine.ErrRunNotFinished)

	table := Table{
		model.EventExit: HandlerFunc(func(*Context, model.ExitEvent) (Directive, error) {
			panic("boom")
		}),
	}

	rec, err := NewDispatcher(m, zaptest.NewLogger(t)).Run(context.Background(), testDescriptor(t), table)
	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Contains(t, herr.Error(), "boom")
	assert.Equal(t, model.RunStatusFailed, rec.Status)
	assert.Equal(t, model.ErrorClassHandler, rec.ErrorClass)
}

func TestSequenceExhaustion(t *testing.T) {
	tests := []struct {
		name       string
		handler    *Sequence
		wantStatus model.RunStatus
		wantErr    error
	}{
		{
			name:       "fail loudly",
			handler:    NewSequence(HandlerFunc(func(*Context, model.ExitEvent) (Directive, error) { return Resume(), nil })),
			wantStatus: model.RunStatusFailed,
			wantErr:    ErrSequenceExhausted,
		},
		{
			name:       "single shot falls back to default",
			handler:    SingleShot(HandlerFunc(func(*Context, model.ExitEvent) (Directive, error) { return Resume(), nil })),
			wantStatus: model.RunStatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			m := enginemock.NewMockEngine(ctrl)

			m.EXPECT().Start(gomock.Any(), gomock.Any()).Return(handle, nil)
			expectEvents(m, ev(1, model.EventExit), ev(2, model.EventExit))
			m.EXPECT().Resume(handle).Return(nil).Times(1)
			m.EXPECT().Stop(handle).Return(nil).Times(1)
			m.EXPECT().Stats(handle).Return(model.Stats{}, nil)

			rec, err := NewDispatcher(m, zaptest.NewLogger(t)).Run(context.Background(), testDescriptor(t),
				Table{model.EventExit: tt.handler})
			assert.Equal(t, tt.wantStatus, rec.Status)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, 0, tt.handler.Remaining())
		})
	}
}

func TestRepeatCycles(t *testing.T) {
	var order []string
	step := func(name string) HandlerFunc {
		return func(*Context, model.ExitEvent) (Directive, error) {
			order = append(order, name)
			return Resume(), nil
		}
	}
	r := Repeat(step("a"), step("b"))
	hc := &Context{Logger: zaptest.NewLogger(t)}
	for i := 0; i < 5; i++ {
		_, err := r.Handle(hc, ev(uint64(i+1), model.EventCheckpoint))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "a", "b", "a"}, order)
	assert.Equal(t, -1, r.Remaining())
}

func TestTerminalDirectives(t *testing.T) {
	tests := []struct {
		name       string
		events     []model.ExitEvent
		table      Table
		resumes    int
		wantStatus model.RunStatus
		wantCode   int
	}{
		{
			name:   "terminate with code",
			events: []model.ExitEvent{ev(1, model.EventCheckpoint)},
			table: Table{model.EventCheckpoint: HandlerFunc(func(*Context, model.ExitEvent) (Directive, error) {
				return Terminate(3), nil
			})},
			wantStatus: model.RunStatusCompleted,
			wantCode:   3,
		},
		{
			name:       "fail event default",
			events:     []model.ExitEvent{{Seq: 1, Kind: model.EventFail, Code: 7}},
			table:      Table{},
			wantStatus: model.RunStatusFailed,
			wantCode:   7,
		},
		{
			name:       "engine drains",
			events:     []model.ExitEvent{ev(1, model.EventWorkBegin)},
			table:      Table{},
			resumes:    1,
			wantStatus: model.RunStatusCompleted,
		},
		{
			name:   "explicit default",
			events: []model.ExitEvent{ev(1, model.EventMaxTick)},
			table: Table{model.EventMaxTick: HandlerFunc(func(*Context, model.ExitEvent) (Directive, error) {
				return Default(), nil
			})},
			wantStatus: model.RunStatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			m := enginemock.NewMockEngine(ctrl)

			m.EXPECT().Start(gomock.Any(), gomock.Any()).Return(handle, nil)
			calls := []any{}
			for _, e := range tt.events {
				calls = append(calls, m.EXPECT().NextEvent(gomock.Any(), handle).Return(e, nil))
			}
			if tt.resumes > 0 {
				calls = append(calls, m.EXPECT().NextEvent(gomock.Any(), handle).Return(model.ExitEvent{}, engine.ErrRunFinished))
			}
			gomock.InOrder(calls...)
			m.EXPECT().Resume(handle).Return(nil).Times(tt.resumes)
			m.EXPECT().Stop(handle).Return(nil).Times(1)
			m.EXPECT().Stats(handle).Return(model.Stats{}, nil)

			rec, _ := NewDispatcher(m, zaptest.NewLogger(t)).Run(context.Background(), testDescriptor(t), tt.table)
			assert.Equal(t, tt.wantStatus, rec.Status)
			assert.Equal(t, tt.wantCode, rec.ExitCode)
		})
	}
}

func TestEngineFailures(t *testing.T) {
	t.Run("start error never stops", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		m := enginemock.NewMockEngine(ctrl)
		m.EXPECT().Start(gomock.Any(), gomock.Any()).
			Return(engine.RunHandle(""), &engine.EngineStartError{Label: "test", Err: errors.New("no disk")})

		rec, err := NewDispatcher(m, zaptest.NewLogger(t)).Run(context.Background(), testDescriptor(t), Table{})
		var startErr *engine.EngineStartError
		require.ErrorAs(t, err, &startErr)
		assert.Equal(t, model.RunStatusFailed, rec.Status)
		assert.Equal(t, model.ErrorClassEngineStart, rec.ErrorClass)
	})

	t.Run("out of order", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		m := enginemock.NewMockEngine(ctrl)
		m.EXPECT().Start(gomock.Any(), gomock.Any()).Return(handle, nil)
		expectEvents(m, ev(2, model.EventWorkBegin), ev(2, model.EventWorkEnd))
		m.EXPECT().Resume(handle).Return(nil)
		m.EXPECT().Stop(handle).Return(nil).Times(1)
		m.EXPECT().Stats(handle).Return(model.Stats{}, nil)

		rec, err := NewDispatcher(m, zaptest.NewLogger(t)).Run(context.Background(), testDescriptor(t), Table{})
		assert.ErrorIs(t, err, ErrOutOfOrder)
		assert.Equal(t, model.ErrorClassEngine, rec.ErrorClass)
	})

	t.Run("deadline", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		m := enginemock.NewMockEngine(ctrl)
		m.EXPECT().Start(gomock.Any(), gomock.Any()).Return(handle, nil)
		m.EXPECT().NextEvent(gomock.Any(), handle).Return(model.ExitEvent{}, context.DeadlineExceeded)
		m.EXPECT().Stop(handle).Return(nil).Times(1)
		m.EXPECT().Stats(handle).Return(model.Stats{}, nil)

		rec, err := NewDispatcher(m, zaptest.NewLogger(t)).Run(context.Background(), testDescriptor(t), Table{})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, model.RunStatusTimedOut, rec.Status)
		assert.Equal(t, model.ErrorClassTimeout, rec.ErrorClass)
	})

	t.Run("switch error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		m := enginemock.NewMockEngine(ctrl)
		m.EXPECT().Start(gomock.Any(), gomock.Any()).Return(handle, nil)
		expectEvents(m, ev(1, model.EventExit))
		m.EXPECT().SwitchProcessor(handle, gomock.Any()).Return(&engine.SwitchError{Reason: "no"})
		m.EXPECT().Stop(handle).Return(nil).Times(1)
		m.EXPECT().Stats(handle).Return(model.Stats{}, nil)

		table := Table{model.EventExit: HandlerFunc(func(hc *Context, _ model.ExitEvent) (Directive, error) {
			return Directive{}, hc.Engine.SwitchProcessor(hc.Handle, components.BigProcessor())
		})}
		rec, _ := NewDispatcher(m, zaptest.NewLogger(t)).Run(context.Background(), testDescriptor(t), table)
		assert.Equal(t, model.ErrorClassSwitch, rec.ErrorClass)
	})
}

type recordingObserver struct {
	directives []string
}

func (o *recordingObserver) OnEvent(_ string, ev model.ExitEvent, d Directive) {
	o.directives = append(o.directives, string(ev.Kind)+":"+d.String())
}

func TestDirectivesAreDeterministic(t *testing.T) {
	factory := func() Table {
		return Table{
			model.EventExit:       SingleShot(HandlerFunc(func(*Context, model.ExitEvent) (Directive, error) { return Resume(), nil })),
			model.EventCheckpoint: Repeat(HandlerFunc(func(*Context, model.ExitEvent) (Directive, error) { return Resume(), nil })),
		}
	}
	events := []model.ExitEvent{
		ev(1, model.EventCheckpoint), ev(2, model.EventExit), ev(3, model.EventCheckpoint), ev(4, model.EventExit),
	}

	var runs [][]string
	for i := 0; i < 2; i++ {
		ctrl := gomock.NewController(t)
		m := enginemock.NewMockEngine(ctrl)
		m.EXPECT().Start(gomock.Any(), gomock.Any()).Return(handle, nil)
		expectEvents(m, events...)
		m.EXPECT().Resume(handle).Return(nil).Times(3)
		m.EXPECT().Stop(handle).Return(nil)
		m.EXPECT().Stats(handle).Return(model.Stats{}, nil)

		obs := &recordingObserver{}
		_, err := NewDispatcher(m, zaptest.NewLogger(t), obs).Run(context.Background(), testDescriptor(t), factory())
		require.NoError(t, err)
		runs = append(runs, obs.directives)
	}
	assert.Equal(t, runs[0], runs[1])
	assert.Equal(t, []string{"checkpoint:resume", "exit:resume", "checkpoint:resume", "exit:terminate(0)"}, runs[0])
}

func TestContextDumps(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := enginemock.NewMockEngine(ctrl)
	m.EXPECT().DumpStats(handle).Return(model.Stats{"simInsts": 1}, nil)
	m.EXPECT().ResetStats(handle).Return(nil)

	hc := &Context{Engine: m, Handle: handle, Descriptor: testDescriptor(t)}
	stats, err := hc.DumpStats()
	require.NoError(t, err)
	stats["simInsts"] = 99
	require.NoError(t, hc.ResetStats())

	dumps := hc.Dumps()
	require.Len(t, dumps, 1)
	assert.Equal(t, float64(1), dumps[0]["simInsts"])
	assert.Equal(t, "test", hc.Label())
}
