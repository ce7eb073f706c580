// Package session runs turns against per-session arenas and records them in
// the durable history.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/pkg/events"
	"agentic-retrieval-be/pkg/rag/executor"
	"agentic-retrieval-be/pkg/rag/history"
	"agentic-retrieval-be/pkg/search"
	"agentic-retrieval-be/pkg/store"

	"github.com/google/uuid"
)

var ErrSessionOwnership = errors.New("session belongs to another user")

// Arenas hands out the in-memory arena of a session.
type Arenas interface {
	GetOrCreate(sessionID, userID string) (*store.Session, bool)
	Touch(session *store.Session)
	Delete(sessionID string)
}

type Runner interface {
	Execute(ctx context.Context, in executor.Input) (*executor.Outcome, error)
}

// Manager serialises turns per session and lets sessions run in parallel.
type Manager struct {
	arenas    Arenas
	runner    Runner
	history   history.Store
	loader    *history.Loader
	publisher events.Publisher
	logger    logger.ILogger
	now       func() time.Time
}

func NewManager(arenas Arenas, runner Runner, store history.Store, window int, publisher events.Publisher, log logger.ILogger) *Manager {
	return &Manager{
		arenas:    arenas,
		runner:    runner,
		history:   store,
		loader:    history.NewLoader(store, window),
		publisher: publisher,
		logger:    log,
		now:       time.Now,
	}
}

// Result is a recorded turn together with the loop outcome behind it.
type Result struct {
	Turn    *history.Turn
	Outcome *executor.Outcome
}

// RunTurn executes q in the session. When ctx is cancelled the turn is not
// recorded and ctx's error is returned.
func (m *Manager) RunTurn(ctx context.Context, sessionID string, scope search.Scope, q string) (*Result, error) {
	arena, created := m.arenas.GetOrCreate(sessionID, scope.UserID)
	if arena.UserID != scope.UserID {
		return nil, ErrSessionOwnership
	}

	if err := arena.Acquire(ctx); err != nil {
		return nil, err
	}
	defer func() {
		arena.Release()
		m.arenas.Touch(arena)
	}()

	turns, err := m.loader.Window(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if last, ok := history.Last(turns); ok {
		arena.Resume(last.Index + 1)
	}
	if created && len(turns) > 0 {
		m.logger.Info("SESSION", "Arena recreated from history", map[string]interface{}{
			"session_id": sessionID,
			"turns":      len(turns),
		})
	}

	started := m.now()
	index := arena.NextTurn()
	outcome, err := m.runner.Execute(ctx, executor.Input{
		Index:  index,
		Query:  q,
		Scope:  scope,
		Turns:  turns,
		Chains: arena.Chains,
		Now:    started,
	})
	if err != nil {
		return nil, err
	}

	turn := &history.Turn{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		UserID:         scope.UserID,
		Index:          index,
		Query:          q,
		Classification: outcome.Classification,
		ToolLog:        outcome.ToolLog,
		Answer:         outcome.Answer,
		Citations:      outcome.Citations,
		State:          string(outcome.State),
		CreatedAt:      started,
	}
	if outcome.Transition != nil {
		turn.ChainID = outcome.Transition.Active.ID
		turn.ChainAction = string(outcome.Transition.Action)
	}

	if err := m.history.Append(ctx, turn); err != nil {
		m.logger.Error("SESSION", "Failed to persist turn", map[string]interface{}{
			"session_id": sessionID,
			"turn":       index,
			"error":      err.Error(),
		})
	}

	m.publish(ctx, turn, outcome, m.now().Sub(started))
	return &Result{Turn: turn, Outcome: outcome}, nil
}

// Turns lists the recorded turns of a session, oldest first.
func (m *Manager) Turns(ctx context.Context, sessionID string, limit int) ([]*history.Turn, error) {
	return m.history.Recent(ctx, sessionID, limit)
}

// Close evicts the arena and deletes the durable history.
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	m.arenas.Delete(sessionID)
	if err := m.history.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	return nil
}

func (m *Manager) publish(ctx context.Context, turn *history.Turn, outcome *executor.Outcome, took time.Duration) {
	if m.publisher == nil {
		return
	}
	evt := events.TurnCompleted{
		SessionID:   turn.SessionID,
		UserID:      turn.UserID,
		TurnID:      turn.ID,
		TurnIndex:   turn.Index,
		State:       turn.State,
		Reason:      string(outcome.FallbackReason),
		Iterations:  outcome.Iterations,
		ToolCalls:   len(outcome.ToolLog),
		Citations:   len(outcome.Citations),
		ChainID:     turn.ChainID,
		ChainAction: turn.ChainAction,
		Duration:    took,
		OccurredAt:  m.now(),
	}
	if err := m.publisher.Publish(ctx, evt.Event()); err != nil {
		m.logger.Warn("SESSION", "Failed to publish turn event", map[string]interface{}{
			"session_id": turn.SessionID,
			"error":      err.Error(),
		})
	}
}
