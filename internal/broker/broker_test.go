package broker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/multisim/internal/model"
	"github.com/t77yq/multisim/internal/testutil"
)

func record(label string, status model.RunStatus) *model.RunRecord {
	return &model.RunRecord{
		ID:     uuid.New().String(),
		Label:  label,
		Status: status,
		Stats:  model.Stats{"bytesRead": 4096},
	}
}

func TestPublisher(t *testing.T) {
	_, js := testutil.StartJetStream(t)
	logger := zaptest.NewLogger(t)

	pub, err := NewPublisher(js, "", logger)
	require.NoError(t, err)
	require.NoError(t, testutil.WaitForStream(t, js, StreamName, 5*time.Second))

	ctx := context.Background()

	t.Run("Records", func(t *testing.T) {
		rec := record("LinearGenerator", model.RunStatusCompleted)
		require.NoError(t, pub.Store(ctx, "b1", rec))
		// a redelivery of the same record is deduplicated
		require.NoError(t, pub.Store(ctx, "b1", rec))

		msgs, err := testutil.ConsumeMessages(js, pub.RecordSubject("b1"), 2, time.Second)
		require.NoError(t, err)
		require.Len(t, msgs, 1)

		var env RecordEnvelope
		require.NoError(t, json.Unmarshal(msgs[0], &env))
		assert.Equal(t, "b1", env.Batch)
		assert.Equal(t, rec.ID, env.Record.ID)
		assert.Equal(t, 4096.0, env.Record.Stats["bytesRead"])
	})

	t.Run("Alerts", func(t *testing.T) {
		alert := &model.Alert{
			ID:       uuid.New().String(),
			Type:     model.AlertTypeRunFailure,
			Severity: model.AlertSeverityError,
			Message:  "run failed",
		}
		require.NoError(t, pub.PublishAlert(ctx, alert))

		msgs, err := testutil.ConsumeMessages(js, pub.AlertSubject(model.AlertTypeRunFailure), 1, time.Second)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Contains(t, string(msgs[0]), "run failed")
	})

	t.Run("HostStats", func(t *testing.T) {
		require.NoError(t, pub.PublishHostStats(ctx, model.HostStats{ActiveRuns: 2, CollectedAt: time.Now()}))

		msgs, err := testutil.ConsumeMessages(js, pub.HostSubject(), 1, time.Second)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Contains(t, string(msgs[0]), `"active_runs":2`)
	})

	t.Run("ReopenUpdatesStream", func(t *testing.T) {
		_, err := NewPublisher(js, "", logger)
		assert.NoError(t, err)
	})
}

func TestSubscriber(t *testing.T) {
	_, js := testutil.StartJetStream(t)
	logger := zaptest.NewLogger(t)

	pub, err := NewPublisher(js, "exp", logger)
	require.NoError(t, err)
	sub := NewSubscriber(js, "exp", logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu     sync.Mutex
		got    []RecordEnvelope
		alerts []*model.Alert
	)
	require.NoError(t, sub.SubscribeRecords(ctx, "b2", func(env RecordEnvelope) {
		mu.Lock()
		got = append(got, env)
		mu.Unlock()
	}))
	require.NoError(t, sub.SubscribeAlerts(ctx, func(a *model.Alert) {
		mu.Lock()
		alerts = append(alerts, a)
		mu.Unlock()
	}))

	require.NoError(t, pub.Store(ctx, "b2", record("a", model.RunStatusCompleted)))
	require.NoError(t, pub.Store(ctx, "other", record("x", model.RunStatusCompleted)))
	require.NoError(t, pub.Store(ctx, "b2", record("b", model.RunStatusFailed)))
	require.NoError(t, pub.PublishAlert(ctx, &model.Alert{ID: "a1", Type: model.AlertTypeSlowRun}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2 && len(alerts) == 1
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "a", got[0].Record.Label)
	assert.Equal(t, "b", got[1].Record.Label)
	assert.Equal(t, model.RunStatusFailed, got[1].Record.Status)
	assert.Equal(t, model.AlertTypeSlowRun, alerts[0].Type)
}
