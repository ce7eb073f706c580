package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRepository_GetOrCreate(t *testing.T) {
	repo := NewSessionRepository(time.Hour, 4)

	s, created := repo.GetOrCreate("s1", "u1")
	require.True(t, created)
	again, created := repo.GetOrCreate("s1", "u1")
	assert.False(t, created)
	assert.Same(t, s, again)
	assert.Equal(t, 1, repo.Count())

	repo.Delete("s1")
	_, ok := repo.Get("s1")
	assert.False(t, ok)
}

func TestSessionRepository_ExpiresIdleArenas(t *testing.T) {
	repo := NewSessionRepository(30*time.Millisecond, 4)
	first, _ := repo.GetOrCreate("s1", "u1")
	first.NextTurn()

	time.Sleep(60 * time.Millisecond)
	_, ok := repo.Get("s1")
	assert.False(t, ok)

	second, created := repo.GetOrCreate("s1", "u1")
	assert.True(t, created)
	assert.NotSame(t, first, second)
	assert.Equal(t, 0, second.Turns())
}
