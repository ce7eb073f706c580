package history

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps turns in process. Used by the simulator and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]*Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[string][]*Turn)}
}

func (s *MemoryStore) Append(ctx context.Context, turn *Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *turn
	list := append(s.turns[turn.SessionID], &cp)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Index < list[j].Index })
	s.turns[turn.SessionID] = list
	return nil
}

func (s *MemoryStore) Recent(ctx context.Context, sessionID string, limit int) ([]*Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.turns[sessionID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]*Turn, len(list))
	for i, t := range list {
		cp := *t
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.turns, sessionID)
	return nil
}
