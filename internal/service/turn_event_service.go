package service

import (
	"context"
	"fmt"

	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/pkg/events"
)

const (
	turnFeedMessageType = "turn_completed"
	turnEventsDurable   = "chat-turn-audit"
)

// TurnDelivery pushes real-time updates to a user; the websocket hub
// implements it.
type TurnDelivery interface {
	Deliver(ctx context.Context, userID, msgType string, data interface{}) error
}

// TurnEventService consumes completed-turn events: every event lands in the
// audit log and is pushed to the user's open feeds.
type TurnEventService struct {
	subscriber events.Subscriber
	delivery   TurnDelivery
	audit      logger.ILogger
	logger     logger.ILogger
}

func NewTurnEventService(sub events.Subscriber, delivery TurnDelivery, audit logger.ILogger, log logger.ILogger) *TurnEventService {
	return &TurnEventService{
		subscriber: sub,
		delivery:   delivery,
		audit:      audit,
		logger:     log,
	}
}

// Start subscribes and returns; events are handled until ctx ends.
func (s *TurnEventService) Start(ctx context.Context) error {
	if err := s.subscriber.Subscribe(ctx, events.TypeTurnCompleted, turnEventsDurable, s.handleEvent); err != nil {
		return fmt.Errorf("failed to start turn event consumer: %w", err)
	}
	s.logger.Info("TURN_EVENTS", "Listening for turn events", map[string]interface{}{"type": events.TypeTurnCompleted})
	return nil
}

func (s *TurnEventService) handleEvent(ctx context.Context, event events.Event) error {
	payload := event.Payload()
	s.audit.Info("AUDIT", "Turn completed", payload)

	userID, _ := payload["user_id"].(string)
	if userID == "" || s.delivery == nil {
		return nil
	}
	if err := s.delivery.Deliver(ctx, userID, turnFeedMessageType, payload); err != nil {
		// best effort
		s.logger.Warn("TURN_EVENTS", "Failed to push turn event", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
	}
	return nil
}
