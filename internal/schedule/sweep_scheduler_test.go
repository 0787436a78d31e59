package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/multisim/internal/model"
)

func TestSweepScheduler_AddListRemove(t *testing.T) {
	s := NewSweepScheduler(func(context.Context, model.SweepSchedule) (model.RunStatus, error) {
		return model.RunStatusCompleted, nil
	}, zaptest.NewLogger(t))

	nightly := &model.SweepSchedule{Name: "nightly", Expression: "0 0 2 * * *", ConfigPath: "nightly.yaml"}
	require.NoError(t, s.AddSchedule(nightly))
	assert.NotEmpty(t, nightly.ID)
	require.NotNil(t, nightly.NextRunTime)
	assert.Equal(t, 2, nightly.NextRunTime.Hour())

	hourly := &model.SweepSchedule{Name: "hourly", Expression: "@hourly", ConfigPath: "hourly.yaml"}
	require.NoError(t, s.AddSchedule(hourly))

	list := s.ListSchedules()
	require.Len(t, list, 2)
	assert.Equal(t, "hourly", list[0].Name)
	assert.Equal(t, "nightly", list[1].Name)

	got, err := s.GetSchedule(nightly.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly.yaml", got.ConfigPath)

	require.NoError(t, s.RemoveSchedule(nightly.ID))
	_, err = s.GetSchedule(nightly.ID)
	assert.ErrorIs(t, err, ErrScheduleNotFound)
	assert.ErrorIs(t, s.RemoveSchedule(nightly.ID), ErrScheduleNotFound)
	assert.Len(t, s.ListSchedules(), 1)
}

func TestSweepScheduler_InvalidExpression(t *testing.T) {
	s := NewSweepScheduler(nil, zaptest.NewLogger(t))

	err := s.AddSchedule(&model.SweepSchedule{Name: "bad", Expression: "every tuesday"})
	assert.ErrorIs(t, err, ErrInvalidExpression)
	assert.Empty(t, s.ListSchedules())
}

func TestSweepScheduler_RunsAndRecordsStatus(t *testing.T) {
	var runs atomic.Int32
	s := NewSweepScheduler(func(_ context.Context, sc model.SweepSchedule) (model.RunStatus, error) {
		assert.Equal(t, "sweep.yaml", sc.ConfigPath)
		if runs.Add(1) == 1 {
			return model.RunStatusCompleted, nil
		}
		return "", errors.New("config missing")
	}, zaptest.NewLogger(t))

	sc := &model.SweepSchedule{Name: "every-second", Expression: "* * * * * *", ConfigPath: "sweep.yaml"}
	require.NoError(t, s.AddSchedule(sc))

	s.Start(context.Background())

	assert.Eventually(t, func() bool {
		got, err := s.GetSchedule(sc.ID)
		return err == nil && got.LastStatus == model.RunStatusCompleted
	}, 3*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		got, err := s.GetSchedule(sc.ID)
		return err == nil && got.LastStatus == model.RunStatusFailed
	}, 3*time.Second, 20*time.Millisecond)

	s.Stop()

	got, err := s.GetSchedule(sc.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastRunTime)
	assert.True(t, got.NextRunTime.After(*got.LastRunTime))
}

func TestSweepScheduler_StopCancelsRun(t *testing.T) {
	started := make(chan struct{})
	var once atomic.Bool
	s := NewSweepScheduler(func(ctx context.Context, _ model.SweepSchedule) (model.RunStatus, error) {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-ctx.Done()
		return model.RunStatusFailed, ctx.Err()
	}, zaptest.NewLogger(t))

	require.NoError(t, s.AddSchedule(&model.SweepSchedule{Name: "slow", Expression: "* * * * * *"}))
	s.Start(context.Background())

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("schedule never ran")
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
