package domain

import "time"

// DenyReason explains a rejected admission
type DenyReason string

const (
	ReasonRateLimit  DenyReason = "rate_limit"
	ReasonBurstLimit DenyReason = "burst_limit"
)

// RateLimitConfig bounds outbound requests for one provider
type RateLimitConfig struct {
	Limit         int           `json:"limit"`
	Window        time.Duration `json:"window"`
	BurstLimit    int           `json:"burst_limit"`
	BurstWindow   time.Duration `json:"burst_window"`
	QueueCapacity int           `json:"queue_capacity"`
}

// Defaults applied by Configure when a field is zero
const (
	DefaultRateLimit     = 30
	DefaultRateWindow    = time.Minute
	DefaultBurstLimit    = 3
	DefaultBurstWindow   = 10 * time.Second
	DefaultQueueCapacity = 100
)

// WithDefaults returns a copy of the config with zero fields filled in
func (c RateLimitConfig) WithDefaults() RateLimitConfig {
	if c.Limit <= 0 {
		c.Limit = DefaultRateLimit
	}

	if c.Window <= 0 {
		c.Window = DefaultRateWindow
	}

	if c.BurstLimit <= 0 {
		c.BurstLimit = DefaultBurstLimit
	}

	if c.BurstWindow <= 0 {
		c.BurstWindow = DefaultBurstWindow
	}

	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}

	return c
}

// AdmissionDecision is the outcome of a single rate-limit check
type AdmissionDecision struct {
	Allowed bool          `json:"allowed"`
	Wait    time.Duration `json:"wait,omitempty"`
	Reason  DenyReason    `json:"reason,omitempty"`
}

// RateLimitStats mirrors one provider's limiter state for the API
type RateLimitStats struct {
	ProviderID    string `json:"provider_id"`
	Limit         int    `json:"limit"`
	WindowMs      int64  `json:"window_ms"`
	BurstLimit    int    `json:"burst_limit"`
	WindowCount   int    `json:"window_count"`
	BurstCount    int    `json:"burst_count"`
	QueueLength   int    `json:"queue_length"`
	QueueCapacity int    `json:"queue_capacity"`
	TotalRequests int64  `json:"total_requests"`
	TotalQueued   int64  `json:"total_queued"`
	TotalRejected int64  `json:"total_rejected"`
}
