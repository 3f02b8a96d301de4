package domain

import (
	"errors"
	"fmt"
	"time"
)

// TransportError is a network or connection failure reaching a provider.
// Retryable; counted against provider health.
type TransportError struct {
	ProviderID string
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure for provider %s: %v", e.ProviderID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError is a deadline exceeded talking to a provider. Retryable;
// counted against provider health.
type TimeoutError struct {
	ProviderID string
	After      time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out after %s", e.ProviderID, e.After)
}

// ThrottleError is an upstream anti-abuse signal (a challenge page or an
// explicit throttle response). The request yields an empty result set and is
// not retried immediately; counted against provider health.
type ThrottleError struct {
	ProviderID string
	StatusCode int
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("provider %s throttled the request (status %d)", e.ProviderID, e.StatusCode)
}

// RateLimitError is local throttling. Callers normally queue instead of
// surfacing this; it is an error only when queueing is not possible.
type RateLimitError struct {
	ProviderID string
	Reason     DenyReason
	Wait       time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited for provider %s: %s (retry in %s)", e.ProviderID, e.Reason, e.Wait)
}

// QueueFullError is local backpressure, surfaced immediately to the caller
// and never retried by the engine itself.
type QueueFullError struct {
	ProviderID string
	Capacity   int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("request queue full for provider %s (capacity %d)", e.ProviderID, e.Capacity)
}

// ParseError means a single item could not be extracted from a provider
// response. The item is skipped; health counters are untouched.
type ParseError struct {
	ProviderID string
	Field      string
	Err        error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failure for provider %s (field %s): %v", e.ProviderID, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProviderDisabledError marks a provider excluded by admin or registry
// config. Skipped silently during fan-out.
type ProviderDisabledError struct {
	ProviderID string
}

func (e *ProviderDisabledError) Error() string {
	return fmt.Sprintf("provider %s is disabled", e.ProviderID)
}

// IsHealthAffecting reports whether an error counts against provider health.
// Transport, timeout and throttle failures do; parse errors and local
// backpressure do not.
func IsHealthAffecting(err error) bool {
	var (
		transport *TransportError
		timeout   *TimeoutError
		throttle  *ThrottleError
	)

	return errors.As(err, &transport) || errors.As(err, &timeout) || errors.As(err, &throttle)
}
