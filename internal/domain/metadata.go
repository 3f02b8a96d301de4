package domain

import "time"

// SearchMode controls how far down the tier ladder a search travels
type SearchMode string

const (
	// SearchModeFallback stops at the first tier that yields results
	SearchModeFallback SearchMode = "fallback"
	// SearchModeAggregate queries every eligible tier and merges
	SearchModeAggregate SearchMode = "aggregate"
)

// Metadata is a normalized record produced by a provider search. Confidence
// is fixed by the source tier at merge time and never mutated afterwards.
type Metadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	CoverURL    string   `json:"cover_url,omitempty"`
	Link        string   `json:"link,omitempty"`
	Type        string   `json:"type,omitempty"`
	Year        int      `json:"year,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	SourceID    string   `json:"source_id"`
	Tier        Tier     `json:"tier"`
	Confidence  float64  `json:"confidence"`
}

// TierConfidence returns the fixed confidence weight for a tier. Tiers below
// tertiary clamp to the tertiary weight.
func TierConfidence(t Tier) float64 {
	switch t {
	case TierPrimary:
		return 1.0
	case TierSecondary:
		return 0.7
	default:
		return 0.4
	}
}

// SearchOptions tune a single aggregated search
type SearchOptions struct {
	Mode        SearchMode    `json:"mode"`
	Priority    int           `json:"priority"`
	Timeout     time.Duration `json:"timeout"`
	IncludeNSFW bool          `json:"include_nsfw"`
	Limit       int           `json:"limit"`
}

// DefaultSearchTimeout bounds a single provider call during fan-out
const DefaultSearchTimeout = 15 * time.Second

// AggregateStatus summarizes how the queried providers fared
type AggregateStatus string

const (
	StatusHealthy   AggregateStatus = "healthy"
	StatusDegraded  AggregateStatus = "degraded"
	StatusUnhealthy AggregateStatus = "unhealthy"
)

// ProviderOutcome reports one provider's part in a search
type ProviderOutcome struct {
	ProviderID string `json:"provider_id"`
	Tier       Tier   `json:"tier"`
	Results    int    `json:"results"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
}

// SearchResponse is the merged, ranked result of a logical search
type SearchResponse struct {
	Query     string            `json:"query"`
	Mode      SearchMode        `json:"mode"`
	Status    AggregateStatus   `json:"status"`
	Results   []Metadata        `json:"results"`
	Providers []ProviderOutcome `json:"providers"`
	TookMs    int64             `json:"took_ms"`
	Cached    bool              `json:"cached,omitempty"`
}

// SearchEvent summarizes a completed aggregated search for the event bus
type SearchEvent struct {
	Query   string          `json:"query"`
	Mode    SearchMode      `json:"mode"`
	Status  AggregateStatus `json:"status"`
	Results int             `json:"results"`
	TookMs  int64           `json:"took_ms"`
	At      time.Time       `json:"at"`
}
