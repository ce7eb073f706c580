package events

import (
	"context"
	"time"
)

const TypeTurnCompleted = "CHAT_TURN_COMPLETED"

// Event is anything published on the event bus.
type Event interface {
	// EventType returns the unique code for this event (e.g., "CHAT_TURN_COMPLETED").
	EventType() string

	Payload() map[string]interface{}

	Timestamp() time.Time
}

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Handler processes one delivered event. A non-nil error asks for redelivery.
type Handler func(ctx context.Context, event Event) error

type Subscriber interface {
	Subscribe(ctx context.Context, eventType, durableName string, handler Handler) error
}

// TurnCompleted summarises a finished turn for downstream consumers. It
// carries no evidence content.
type TurnCompleted struct {
	SessionID   string
	UserID      string
	TurnID      string
	TurnIndex   int
	State       string
	Reason      string
	Iterations  int
	ToolCalls   int
	Citations   int
	ChainID     string
	ChainAction string
	Duration    time.Duration
	OccurredAt  time.Time
}

func (e TurnCompleted) Event() BaseEvent {
	return BaseEvent{
		Type: TypeTurnCompleted,
		Data: map[string]interface{}{
			"session_id":   e.SessionID,
			"user_id":      e.UserID,
			"turn_id":      e.TurnID,
			"turn_index":   e.TurnIndex,
			"state":        e.State,
			"reason":       e.Reason,
			"iterations":   e.Iterations,
			"tool_calls":   e.ToolCalls,
			"citations":    e.Citations,
			"chain_id":     e.ChainID,
			"chain_action": e.ChainAction,
			"duration_ms":  e.Duration.Milliseconds(),
			"occurred_at":  e.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
		OccurredAt: e.OccurredAt,
	}
}
