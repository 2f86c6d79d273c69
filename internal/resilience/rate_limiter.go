package resilience

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterConfig bounds outbound call rate per upstream name (an
// embedding provider or a connector's third-party API).
type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultRateLimiterConfig is a conservative default for connector HTTP
// calls and provider batch submissions.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{RequestsPerSecond: 5, Burst: 10}
}

// RateLimiter holds one token bucket per named upstream, created lazily on
// first use so callers don't need to register upstreams up front.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	defaults map[string]RateLimiterConfig
	fallback RateLimiterConfig
}

func NewRateLimiter(fallback RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		defaults: make(map[string]RateLimiterConfig),
		fallback: fallback,
	}
}

// Configure sets a specific bucket for a named upstream (e.g. "connector:github",
// "provider:embedding"), overriding the fallback configuration.
func (r *RateLimiter) Configure(name string, cfg RateLimiterConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[name] = cfg
	delete(r.limiters, name)
}

// Wait blocks until a token for name is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context, name string) error {
	return r.limiterFor(name).Wait(ctx)
}

// Allow reports whether a token for name is immediately available,
// consuming it if so.
func (r *RateLimiter) Allow(name string) bool {
	return r.limiterFor(name).Allow()
}

func (r *RateLimiter) limiterFor(name string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[name]; ok {
		return l
	}
	cfg, ok := r.defaults[name]
	if !ok {
		cfg = r.fallback
	}
	l := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	r.limiters[name] = l
	return l
}
