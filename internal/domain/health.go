package domain

import "time"

// HealthState is the probe-driven state of a provider
type HealthState string

const (
	HealthStateUnknown  HealthState = "UNKNOWN"
	HealthStateTesting  HealthState = "TESTING"
	HealthStateActive   HealthState = "ACTIVE"
	HealthStateDegraded HealthState = "DEGRADED"
	HealthStateDown     HealthState = "DOWN"
)

// Routable reports whether the aggregator may send queries to a provider in
// this state. Only DOWN is excluded.
func (s HealthState) Routable() bool {
	return s != HealthStateDown
}

// ProviderHealthStatus is the Health Monitor's view of one provider. Mutated
// exclusively by the monitor; read by the aggregator and the status endpoints.
type ProviderHealthStatus struct {
	ProviderID       string        `json:"provider_id"`
	State            HealthState   `json:"state"`
	LastResponseMs   int64         `json:"last_response_ms"`
	UptimePercent    float64       `json:"uptime_percent"`
	TotalChecks      int           `json:"total_checks"`
	SuccessfulChecks int           `json:"successful_checks"`
	ConsecutiveFails int           `json:"consecutive_fails"`
	LastError        string        `json:"last_error,omitempty"`
	LastCheckedAt    time.Time     `json:"last_checked_at"`
	NextCheckAt      time.Time     `json:"next_check_at"`
	CheckInterval    time.Duration `json:"check_interval"`
}

// HealthCheck is a single recorded probe outcome
type HealthCheck struct {
	ID         int64       `json:"id"`
	ProviderID string      `json:"provider_id"`
	State      HealthState `json:"state"`
	Success    bool        `json:"success"`
	ResponseMs int64       `json:"response_ms"`
	Error      string      `json:"error,omitempty"`
	CheckedAt  time.Time   `json:"checked_at"`
}

// HealthEvent describes one resolved state transition, published on the
// event bus for downstream consumers
type HealthEvent struct {
	ProviderID string      `json:"provider_id"`
	From       HealthState `json:"from"`
	To         HealthState `json:"to"`
	ResponseMs int64       `json:"response_ms"`
	Error      string      `json:"error,omitempty"`
	At         time.Time   `json:"at"`
}

// DefaultCheckInterval is the probe interval applied when none is configured
const DefaultCheckInterval = 30 * time.Minute

// FailureThreshold is the consecutive probe failures at which a provider
// enters DOWN
const FailureThreshold = 3

// DegradedResponseTime is the probe latency above which a reachable provider
// is considered DEGRADED rather than ACTIVE
const DegradedResponseTime = 5 * time.Second

// ProbeTimeout bounds a single connectivity probe
const ProbeTimeout = 8 * time.Second

// CheckIntervals are the selectable per-provider probe intervals
var CheckIntervals = []time.Duration{
	30 * time.Minute,
	time.Hour,
	2 * time.Hour,
	24 * time.Hour,
	7 * 24 * time.Hour,
	30 * 24 * time.Hour,
}

// ValidCheckInterval reports whether d is one of the selectable intervals
func ValidCheckInterval(d time.Duration) bool {
	for _, v := range CheckIntervals {
		if v == d {
			return true
		}
	}

	return false
}
