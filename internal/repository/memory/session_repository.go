package memory

import (
	"sync"
	"time"

	"agentic-retrieval-be/pkg/metrics"
	"agentic-retrieval-be/pkg/store"

	"github.com/patrickmn/go-cache"
)

// SessionRepository holds session arenas until they sit idle for the TTL.
type SessionRepository struct {
	cache       *cache.Cache
	mu          sync.Mutex
	maxArchived int
}

func NewSessionRepository(ttl time.Duration, maxArchivedChains int) *SessionRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	cleanup := ttl / 6
	if cleanup < time.Second {
		cleanup = time.Second
	}
	c := cache.New(ttl, cleanup)
	c.OnEvicted(func(string, interface{}) {
		metrics.SessionsActive.Dec()
	})
	return &SessionRepository{
		cache:       c,
		maxArchived: maxArchivedChains,
	}
}

// GetOrCreate returns the arena for sessionID, creating it on first use.
// The boolean reports whether the arena was created by this call.
func (r *SessionRepository) GetOrCreate(sessionID, userID string) (*store.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if x, found := r.cache.Get(sessionID); found {
		session := x.(*store.Session)
		r.cache.Set(sessionID, session, cache.DefaultExpiration)
		return session, false
	}

	// clears an expired entry the janitor has not collected yet
	r.cache.Delete(sessionID)

	session := store.NewSession(sessionID, userID, r.maxArchived)
	r.cache.Set(sessionID, session, cache.DefaultExpiration)
	metrics.SessionsActive.Inc()
	return session, true
}

// Touch restarts the idle timer.
func (r *SessionRepository) Touch(session *store.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.cache.Get(session.ID); found {
		r.cache.Set(session.ID, session, cache.DefaultExpiration)
	}
}

func (r *SessionRepository) Get(sessionID string) (*store.Session, bool) {
	if x, found := r.cache.Get(sessionID); found {
		return x.(*store.Session), true
	}
	return nil, false
}

func (r *SessionRepository) Delete(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache.Delete(sessionID)
}

func (r *SessionRepository) Count() int {
	return r.cache.ItemCount()
}
