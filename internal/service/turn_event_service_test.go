package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivered struct {
	userID  string
	msgType string
	data    interface{}
}

type recordingDelivery struct {
	mu  sync.Mutex
	got []delivered
}

func (d *recordingDelivery) Deliver(_ context.Context, userID, msgType string, data interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, delivered{userID, msgType, data})
	return nil
}

func (d *recordingDelivery) all() []delivered {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]delivered(nil), d.got...)
}

func TestTurnEventService_PushesToUser(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewChannelBus(logger.NewNopLogger())
	defer bus.Close()
	delivery := &recordingDelivery{}

	svc := NewTurnEventService(bus, delivery, logger.NewNopLogger(), logger.NewNopLogger())
	require.NoError(t, svc.Start(ctx))

	evt := events.TurnCompleted{
		SessionID:  "s1",
		UserID:     "u1",
		TurnID:     "t1",
		State:      "Answering",
		Iterations: 2,
		OccurredAt: time.Now(),
	}
	require.NoError(t, bus.Publish(ctx, evt.Event()))

	require.Eventually(t, func() bool { return len(delivery.all()) == 1 }, time.Second, 10*time.Millisecond)
	got := delivery.all()[0]
	assert.Equal(t, "u1", got.userID)
	assert.Equal(t, "turn_completed", got.msgType)
	assert.Equal(t, "t1", got.data.(map[string]interface{})["turn_id"])
}

func TestTurnEventService_NoUserNoPush(t *testing.T) {
	delivery := &recordingDelivery{}
	svc := NewTurnEventService(nil, delivery, logger.NewNopLogger(), logger.NewNopLogger())

	err := svc.handleEvent(context.Background(), events.BaseEvent{Type: events.TypeTurnCompleted, Data: map[string]interface{}{"turn_id": "t1"}})
	require.NoError(t, err)
	assert.Empty(t, delivery.got)
}
