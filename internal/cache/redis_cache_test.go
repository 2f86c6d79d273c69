package cache

import (
	"context"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestkit/ragpipe/internal/observability"
)

func TestRedisCache_DisabledAlwaysMisses(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	rc := NewRedisCache(client, Config{Enabled: false}, observability.NewNoopLogger())

	_, err := rc.Get(context.Background(), "key")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, rc.Set(context.Background(), "key", []byte("v"), 0))
}

func TestGuardedValueCache_ComputesOnMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	rc := NewRedisCache(client, Config{Enabled: false}, observability.NewNoopLogger())
	gvc := NewGuardedValueCache(rc, 0)

	computed := false
	var dest map[string]string
	err := gvc.GetOrCompute(context.Background(), "metadata:demo", &dest, func() (interface{}, error) {
		computed = true
		return map[string]string{"name": "demo"}, nil
	})
	require.NoError(t, err)
	assert.True(t, computed)
	assert.Equal(t, "demo", dest["name"])
}

func TestSyncLock_AcquireSurfacesRedisError(t *testing.T) {
	// SyncLock talks directly to Redis via SETNX; exercised here only
	// against a fake client pointed at an address with no listener, so we
	// just assert the error path is surfaced rather than silently ignored.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	lock := NewSyncLock(client, 0, observability.NewNoopLogger())

	err := lock.Acquire(context.Background(), "source-1", uuid.New())
	assert.Error(t, err)
}
