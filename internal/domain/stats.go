package domain

// Stats contains dashboard statistics
type Stats struct {
	Providers  ProviderStats   `json:"providers"`
	RateLimits RateLimitTotals `json:"rate_limits"`
	Proxies    ProxyStats      `json:"proxies"`
	Searches   SearchStats     `json:"searches"`
}

// ProviderStats counts providers by health state
type ProviderStats struct {
	Total    int `json:"total"`
	Enabled  int `json:"enabled"`
	Active   int `json:"active"`
	Degraded int `json:"degraded"`
	Down     int `json:"down"`
	Unknown  int `json:"unknown"`
}

// RateLimitTotals sums limiter activity across all providers
type RateLimitTotals struct {
	TotalRequests int64 `json:"total_requests"`
	TotalQueued   int64 `json:"total_queued"`
	TotalRejected int64 `json:"total_rejected"`
	QueuedNow     int   `json:"queued_now"`
}

// ProxyStats counts endpoints across all pools
type ProxyStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Disabled int `json:"disabled"`
}

// SearchStats counts aggregated searches since process start
type SearchStats struct {
	Total     int64 `json:"total"`
	CacheHits int64 `json:"cache_hits"`
	Merged    int64 `json:"merged_results"`
}
