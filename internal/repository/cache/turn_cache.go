// Package cache keeps the classifier's history window of active sessions in
// Redis in front of the durable turn log.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"agentic-retrieval-be/internal/pkg/logger"
	"agentic-retrieval-be/pkg/rag/history"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "chat:turns:"

// TurnCache is a read-through history.Store. Redis failures degrade to the
// durable store and are never returned.
type TurnCache struct {
	rdb    *redis.Client
	next   history.Store
	window int
	ttl    time.Duration
	logger logger.ILogger
}

func NewTurnCache(rdb *redis.Client, next history.Store, window int, ttl time.Duration, log logger.ILogger) *TurnCache {
	if window <= 0 {
		window = 10
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TurnCache{rdb: rdb, next: next, window: window, ttl: ttl, logger: log}
}

func key(sessionID string) string {
	return keyPrefix + sessionID
}

func (c *TurnCache) Append(ctx context.Context, turn *history.Turn) error {
	if err := c.next.Append(ctx, turn); err != nil {
		return err
	}

	data, err := json.Marshal(turn)
	if err != nil {
		c.invalidate(ctx, turn.SessionID, err)
		return nil
	}

	// RPUSHX leaves a cold session cold, so a partial list is never cached.
	k := key(turn.SessionID)
	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPushX(ctx, k, data)
		p.LTrim(ctx, k, int64(-c.window), -1)
		p.Expire(ctx, k, c.ttl)
		return nil
	})
	if err != nil {
		c.invalidate(ctx, turn.SessionID, err)
	}
	return nil
}

func (c *TurnCache) Recent(ctx context.Context, sessionID string, limit int) ([]*history.Turn, error) {
	if limit <= 0 || limit > c.window {
		return c.next.Recent(ctx, sessionID, limit)
	}

	raw, err := c.rdb.LRange(ctx, key(sessionID), int64(-limit), -1).Result()
	if err != nil {
		c.logger.Warn("TURN_CACHE", "Read failed, using durable store", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return c.next.Recent(ctx, sessionID, limit)
	}
	if len(raw) > 0 {
		turns, err := decode(raw)
		if err == nil {
			return turns, nil
		}
		c.invalidate(ctx, sessionID, err)
	}

	turns, err := c.next.Recent(ctx, sessionID, c.window)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, sessionID, turns)

	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

func (c *TurnCache) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.rdb.Del(ctx, key(sessionID)).Err(); err != nil {
		c.logger.Warn("TURN_CACHE", "Failed to drop cached window", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
	return c.next.DeleteSession(ctx, sessionID)
}

func (c *TurnCache) fill(ctx context.Context, sessionID string, turns []*history.Turn) {
	if len(turns) == 0 {
		return
	}
	values := make([]interface{}, 0, len(turns))
	for _, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return
		}
		values = append(values, data)
	}

	k := key(sessionID)
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		p.RPush(ctx, k, values...)
		p.Expire(ctx, k, c.ttl)
		return nil
	})
	if err != nil {
		c.logger.Warn("TURN_CACHE", "Failed to fill window", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

func (c *TurnCache) invalidate(ctx context.Context, sessionID string, cause error) {
	c.logger.Warn("TURN_CACHE", "Dropping cached window", map[string]interface{}{
		"session_id": sessionID,
		"error":      cause.Error(),
	})
	_ = c.rdb.Del(ctx, key(sessionID)).Err()
}

func decode(raw []string) ([]*history.Turn, error) {
	out := make([]*history.Turn, 0, len(raw))
	for _, r := range raw {
		var t history.Turn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, nil
}
