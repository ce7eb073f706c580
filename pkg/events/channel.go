package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentic-retrieval-be/internal/pkg/logger"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	metadataType       = "event_type"
	metadataOccurredAt = "occurred_at"
)

// ChannelBus is the in-process bus used when no NATS server is configured.
// Topics are event types.
type ChannelBus struct {
	pubSub *gochannel.GoChannel
	logger logger.ILogger
}

func NewChannelBus(log logger.ILogger) *ChannelBus {
	return &ChannelBus{
		pubSub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 256},
			watermill.NewStdLogger(false, false),
		),
		logger: log,
	}
}

func (b *ChannelBus) Publish(_ context.Context, event Event) error {
	data, err := json.Marshal(event.Payload())
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set(metadataType, event.EventType())
	msg.Metadata.Set(metadataOccurredAt, event.Timestamp().UTC().Format(time.RFC3339Nano))

	if err := b.pubSub.Publish(event.EventType(), msg); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.EventType(), err)
	}
	return nil
}

// Subscribe consumes eventType until ctx ends. The durable name is ignored:
// the in-process bus keeps nothing across restarts.
func (b *ChannelBus) Subscribe(ctx context.Context, eventType, _ string, handler Handler) error {
	messages, err := b.pubSub.Subscribe(ctx, eventType)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
	}

	go func() {
		for msg := range messages {
			b.process(ctx, msg, handler)
		}
	}()
	return nil
}

func (b *ChannelBus) process(ctx context.Context, msg *message.Message, handler Handler) {
	var payload map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		b.logger.Error("EVENTS", "Failed to unmarshal event", map[string]interface{}{"error": err.Error()})
		msg.Ack()
		return
	}

	occurredAt, err := time.Parse(time.RFC3339Nano, msg.Metadata.Get(metadataOccurredAt))
	if err != nil {
		occurredAt = time.Now()
	}

	event := BaseEvent{
		Type:       msg.Metadata.Get(metadataType),
		Data:       payload,
		OccurredAt: occurredAt,
	}
	if err := handler(ctx, event); err != nil {
		b.logger.Warn("EVENTS", "Handler failed, event dropped", map[string]interface{}{
			"type":  event.Type,
			"error": err.Error(),
		})
	}
	msg.Ack()
}

func (b *ChannelBus) Close() error {
	return b.pubSub.Close()
}
