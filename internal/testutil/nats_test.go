package testutil

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartJetStream(t *testing.T) {
	_, js := StartJetStream(t)

	// the API answers right away instead of waiting out MaxWait
	start := time.Now()
	_, err := js.StreamInfo("MISSING")
	assert.ErrorIs(t, err, nats.ErrStreamNotFound)
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err = js.AddStream(&nats.StreamConfig{Name: "RUNS", Subjects: []string{"runs.>"}})
	require.NoError(t, err)
	require.NoError(t, WaitForStream(t, js, "RUNS", time.Second))

	_, err = js.Publish("runs.a", []byte("done"))
	require.NoError(t, err)
	msgs, err := ConsumeMessages(js, "runs.a", 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("done")}, msgs)
}
