package events

import (
	"context"
	"testing"
	"time"

	"agentic-retrieval-be/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelBus_DeliversTurnCompleted(t *testing.T) {
	bus := NewChannelBus(logger.NewNopLogger())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Event, 1)
	require.NoError(t, bus.Subscribe(ctx, TypeTurnCompleted, "audit", func(_ context.Context, e Event) error {
		received <- e
		return nil
	}))

	at := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	evt := TurnCompleted{
		SessionID:  "s1",
		TurnID:     "t1",
		State:      "Answering",
		Iterations: 2,
		Duration:   1500 * time.Millisecond,
		OccurredAt: at,
	}.Event()
	require.NoError(t, bus.Publish(ctx, evt))

	select {
	case got := <-received:
		assert.Equal(t, TypeTurnCompleted, got.EventType())
		assert.Equal(t, "s1", got.Payload()["session_id"])
		assert.Equal(t, float64(2), got.Payload()["iterations"])
		assert.Equal(t, float64(1500), got.Payload()["duration_ms"])
		assert.True(t, at.Equal(got.Timestamp()))
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}
