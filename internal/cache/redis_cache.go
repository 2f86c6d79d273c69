// Package cache provides Redis-backed caching and distributed locking; the
// sync coordinator uses its SyncLock.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/ingestkit/ragpipe/internal/observability"
)

// ErrCacheMiss is returned when a cache key is not found.
var ErrCacheMiss = errors.New("cache miss")

// Config configures cache behavior.
type Config struct {
	Enabled    bool
	DefaultTTL time.Duration
	KeyPrefix  string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Enabled: true, DefaultTTL: 24 * time.Hour, KeyPrefix: "ragpipe:"}
}

// RedisCache wraps a redis.Client with a key prefix and hit/miss counters.
type RedisCache struct {
	client *redis.Client
	config Config
	logger observability.Logger

	hits   int64
	misses int64
}

func NewRedisCache(client *redis.Client, config Config, logger observability.Logger) *RedisCache {
	return &RedisCache{client: client, config: config, logger: logger.WithPrefix("redis-cache")}
}

func (rc *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if !rc.config.Enabled {
		return nil, ErrCacheMiss
	}
	val, err := rc.client.Get(ctx, rc.makeKey(key)).Bytes()
	if err == redis.Nil {
		rc.misses++
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	rc.hits++
	return val, nil
}

func (rc *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !rc.config.Enabled {
		return nil
	}
	if ttl == 0 {
		ttl = rc.config.DefaultTTL
	}
	if err := rc.client.Set(ctx, rc.makeKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	if !rc.config.Enabled {
		return nil
	}
	if err := rc.client.Del(ctx, rc.makeKey(key)).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (rc *RedisCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := rc.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (rc *RedisCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	return rc.Set(ctx, key, data, ttl)
}

func (rc *RedisCache) Stats() map[string]interface{} {
	total := rc.hits + rc.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(rc.hits) / float64(total)
	}
	return map[string]interface{}{"hits": rc.hits, "misses": rc.misses, "hit_rate": hitRate}
}

func (rc *RedisCache) makeKey(key string) string { return rc.config.KeyPrefix + key }

// SyncLock enforces the "at most one running sync per source" rule across
// coordinator replicas using a Redis SETNX-with-TTL lease.
type SyncLock struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger observability.Logger
}

// ErrAlreadyLocked is returned when a source already has a running sync.
var ErrAlreadyLocked = errors.New("sync already in progress for this source")

func NewSyncLock(client *redis.Client, ttl time.Duration, logger observability.Logger) *SyncLock {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &SyncLock{client: client, prefix: "ragpipe:synclock:", ttl: ttl, logger: logger.WithPrefix("sync-lock")}
}

// Acquire attempts to take the lock for sourceID, tagging it with runID so
// Release can verify ownership before clearing it. Returns ErrAlreadyLocked
// if another run currently holds it.
func (l *SyncLock) Acquire(ctx context.Context, sourceID string, runID uuid.UUID) error {
	ok, err := l.client.SetNX(ctx, l.prefix+sourceID, runID.String(), l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return ErrAlreadyLocked
	}
	return nil
}

// Release clears the lock only if it is still held by runID, so a timed-out
// run can never release a lock a newer run has since acquired.
func (l *SyncLock) Release(ctx context.Context, sourceID string, runID uuid.UUID) error {
	key := l.prefix + sourceID
	held, err := l.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("check sync lock owner: %w", err)
	}
	if held != runID.String() {
		l.logger.Warn("refusing to release sync lock held by a different run", map[string]interface{}{
			"source_id": sourceID, "held_by": held, "requested_by": runID.String(),
		})
		return nil
	}
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release sync lock: %w", err)
	}
	return nil
}

// Refresh extends the lease while a long-running sync is still in progress.
func (l *SyncLock) Refresh(ctx context.Context, sourceID string, runID uuid.UUID) error {
	key := l.prefix + sourceID
	held, err := l.client.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check sync lock owner: %w", err)
	}
	if held != runID.String() {
		return ErrAlreadyLocked
	}
	return l.client.Expire(ctx, key, l.ttl).Err()
}

// IsLocked reports whether a source currently has a running sync, without
// acquiring it.
func (l *SyncLock) IsLocked(ctx context.Context, sourceID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.prefix+sourceID).Result()
	if err != nil {
		return false, fmt.Errorf("check sync lock: %w", err)
	}
	return n > 0, nil
}

// GuardedValueCache caches values with a short TTL to avoid hammering slow
// dependencies (e.g. a connector's own /metadata self-test) on every request.
type GuardedValueCache struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewGuardedValueCache defaults to a 90-second TTL.
func NewGuardedValueCache(cache *RedisCache, ttl time.Duration) *GuardedValueCache {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &GuardedValueCache{cache: cache, ttl: ttl}
}

// GetOrCompute returns the cached JSON value for key, computing and caching
// it via fn on a miss.
func (g *GuardedValueCache) GetOrCompute(ctx context.Context, key string, dest interface{}, fn func() (interface{}, error)) error {
	if err := g.cache.GetJSON(ctx, key, dest); err == nil {
		return nil
	} else if !errors.Is(err, ErrCacheMiss) {
		return err
	}

	value, err := fn()
	if err != nil {
		return err
	}
	if err := g.cache.SetJSON(ctx, key, value, g.ttl); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}
