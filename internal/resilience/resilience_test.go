package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ingestkit/ragpipe/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         3,
		ResetTimeout:        time.Hour,
		HalfOpenMaxRequests: 1,
		FailureThreshold:    1,
		MinimumRequestCount: 1000,
	}, observability.NewNoopLogger())

	failing := func() error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), failing)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}

	assert.Equal(t, StateOpen, cb.State())
	err := cb.Execute(context.Background(), failing)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         1,
		ResetTimeout:        time.Millisecond,
		HalfOpenMaxRequests: 2,
		FailureThreshold:    1,
		MinimumRequestCount: 1000,
	}, observability.NewNoopLogger())

	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(2 * time.Millisecond)

	for i := 0; i < 2; i++ {
		err := cb.Execute(context.Background(), func() error { return nil })
		require.NoError(t, err)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestRateLimiter_BurstThenBlocked(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 1, Burst: 1})
	assert.True(t, rl.Allow("provider:embedding"))
	assert.False(t, rl.Allow("provider:embedding"))
}

func TestRateLimiter_PerUpstreamIsolation(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{RequestsPerSecond: 1, Burst: 1})
	rl.Configure("connector:github", RateLimiterConfig{RequestsPerSecond: 100, Burst: 5})

	assert.True(t, rl.Allow("connector:github"))
	assert.True(t, rl.Allow("connector:github"))
	assert.True(t, rl.Allow("provider:embedding"))
	assert.False(t, rl.Allow("provider:embedding"))
}
