// Package errkind tags pipeline errors with the taxonomy the orchestrator and
// coordinator use to decide retry vs. terminal handling, generalizing the
// per-provider error shape into one type shared across every component.
package errkind

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for the purposes of retry/propagation policy.
type Kind string

const (
	Configuration  Kind = "configuration"
	Authentication Kind = "authentication"
	Authorization  Kind = "authorization"
	Transient      Kind = "transient"
	Transformation Kind = "transformation"
	Provider       Kind = "provider"
	Poison         Kind = "poison"
	Invariant      Kind = "invariant"
)

// Error wraps an underlying error with a Kind, a message, and an optional
// provider-supplied RetryAfter duration; whether it is retryable follows
// from its Kind (see Retryable).
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter *time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the orchestrator's retry loop should retry this
// error. Only Transient errors are retryable; everything else is terminal
// for the enclosing operation.
func (e *Error) Retryable() bool {
	return e.Kind == Transient
}

// New constructs a tagged error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap tags an existing error with a kind, preserving it for errors.Is/As.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Transientf builds a Transient error honoring an upstream Retry-After.
func Transientf(retryAfter *time.Duration, format string, args ...interface{}) *Error {
	return &Error{Kind: Transient, Message: fmt.Sprintf(format, args...), RetryAfter: retryAfter}
}

// Of extracts the Kind of an error if it (or something it wraps) is an *Error.
// Unrecognized errors are reported as Invariant, the catch-all for a
// violated precondition.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Invariant
}

// IsRetryable reports whether err should be retried by the caller.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
