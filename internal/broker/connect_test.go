package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/testutil"
)

func TestBackoff(t *testing.T) {
	b := Backoff{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Next(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestConnect(t *testing.T) {
	s, _ := testutil.StartJetStream(t)

	// callbacks fire asynchronously on close, so keep them off the test logger
	nc, js, err := Connect(ConnectOptions{URL: s.ClientURL(), Name: "multisim-test"}, zap.NewNop())
	require.NoError(t, err)
	defer nc.Close()

	_, err = NewPublisher(js, "", zap.NewNop())
	require.NoError(t, err)
	assert.True(t, nc.IsConnected())
}

func TestConnect_Unreachable(t *testing.T) {
	start := time.Now()
	_, _, err := Connect(ConnectOptions{
		URL:         "nats://127.0.0.1:1",
		MaxAttempts: 2,
		Backoff:     Backoff{InitialDelay: 10 * time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 1},
	}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Less(t, time.Since(start), 5*time.Second)
}
