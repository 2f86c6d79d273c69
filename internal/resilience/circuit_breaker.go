// Package resilience provides a circuit breaker that trips on a sustained
// failure rate, which guards embedding-provider calls, and a token-bucket
// rate limiter per upstream.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ingestkit/ragpipe/internal/observability"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the circuit breaker's current mode.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	MaxFailures         int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
	FailureThreshold    float64
	MinimumRequestCount int
}

// DefaultCircuitBreakerConfig returns the defaults used to guard the
// embedding provider's SubmitJob/GetJobStatus calls.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:         5,
		ResetTimeout:        60 * time.Second,
		HalfOpenMaxRequests: 3,
		FailureThreshold:    0.5,
		MinimumRequestCount: 10,
	}
}

// CircuitBreaker implements the classic Closed/Open/HalfOpen pattern.
type CircuitBreaker struct {
	config      CircuitBreakerConfig
	state       State
	failures    int
	successes   int
	requests    int
	lastAttempt time.Time
	logger      observability.Logger

	mu sync.RWMutex
}

func NewCircuitBreaker(config CircuitBreakerConfig, logger observability.Logger) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 60 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 3
	}
	return &CircuitBreaker{config: config, state: StateClosed, logger: logger.WithPrefix("circuit-breaker")}
}

// Execute runs fn under circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.recordResult(err == nil)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.lastAttempt) > cb.config.ResetTimeout {
			cb.state = StateHalfOpen
			cb.reset()
			cb.logger.Info("circuit breaker transitioning to half-open", nil)
			return true
		}
		return false
	case StateHalfOpen:
		return cb.requests < cb.config.HalfOpenMaxRequests
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++
	cb.lastAttempt = time.Now()

	if success {
		cb.successes++
		cb.onSuccess()
	} else {
		cb.failures++
		cb.onFailure()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateHalfOpen:
		if cb.successes >= cb.config.HalfOpenMaxRequests {
			cb.state = StateClosed
			cb.reset()
			cb.logger.Info("circuit breaker closed after successful recovery", nil)
		}
	case StateClosed:
		if cb.requests >= cb.config.MinimumRequestCount {
			if float64(cb.failures)/float64(cb.requests) < cb.config.FailureThreshold {
				cb.reset()
			}
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	switch cb.state {
	case StateHalfOpen:
		cb.state = StateOpen
		cb.logger.Warn("circuit breaker re-opened after failure", map[string]interface{}{"failures": cb.failures})
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.state = StateOpen
			cb.logger.Warn("circuit breaker opened", map[string]interface{}{"failures": cb.failures})
		} else if cb.requests >= cb.config.MinimumRequestCount {
			rate := float64(cb.failures) / float64(cb.requests)
			if rate >= cb.config.FailureThreshold {
				cb.state = StateOpen
				cb.logger.Warn("circuit breaker opened due to failure rate", map[string]interface{}{
					"failure_rate": rate, "threshold": cb.config.FailureThreshold,
				})
			}
		}
	}
}

func (cb *CircuitBreaker) reset() {
	cb.failures = 0
	cb.successes = 0
	cb.requests = 0
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}
