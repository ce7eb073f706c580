// Package store holds the in-memory per-session arena.
package store

import (
	"context"
	"sync"
	"time"

	"agentic-retrieval-be/pkg/rag/chain"
)

// Session is the arena of one conversation: its chain tracker and turn
// counter. Only one turn may run against it at a time.
type Session struct {
	ID     string `json:"id"` // ChatSessionID
	UserID string `json:"user_id"`

	Chains *chain.Tracker `json:"-"`

	sem        chan struct{}
	mu         sync.Mutex
	turns      int
	resumed    bool
	lastActive time.Time
}

func NewSession(id, userID string, maxArchivedChains int) *Session {
	return &Session{
		ID:         id,
		UserID:     userID,
		Chains:     chain.NewTracker(maxArchivedChains),
		sem:        make(chan struct{}, 1),
		lastActive: time.Now(),
	}
}

// Acquire blocks until the caller owns the session or ctx ends.
func (s *Session) Acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Release() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
	<-s.sem
}

// Resume continues numbering after a durable history the arena did not see,
// e.g. when the arena was evicted and recreated. Only the first call counts.
func (s *Session) Resume(nextIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resumed {
		return
	}
	s.resumed = true
	if nextIndex > s.turns {
		s.turns = nextIndex
	}
}

// NextTurn returns the index of the turn about to run.
func (s *Session) NextTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumed = true
	n := s.turns
	s.turns++
	return n
}

func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}
