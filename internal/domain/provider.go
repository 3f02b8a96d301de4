package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Tier is the priority rank of a provider. Lower values are queried first
// and carry more trust during merging.
type Tier int

const (
	TierPrimary   Tier = 1
	TierSecondary Tier = 2
	TierTertiary  Tier = 3
)

// String returns a human-readable name for the tier
func (t Tier) String() string {
	switch t {
	case TierPrimary:
		return "primary"
	case TierSecondary:
		return "secondary"
	case TierTertiary:
		return "tertiary"
	default:
		return fmt.Sprintf("tier-%d", int(t))
	}
}

// Capability names a provider operation the engine may invoke
type Capability string

const (
	CapabilitySearch      Capability = "search"
	CapabilityDetails     Capability = "details"
	CapabilityChapterList Capability = "chapter-list"
	CapabilityPageList    Capability = "page-list"
)

// SelectorSet holds the per-field selector fallback chains for a provider.
// Each list is tried in order until one expression yields a result.
type SelectorSet struct {
	SearchItems []string `json:"search_items"`
	Title       []string `json:"title"`
	Cover       []string `json:"cover"`
	Link        []string `json:"link"`
	Description []string `json:"description"`
	Chapters    []string `json:"chapters"`
	Pages       []string `json:"pages"`
}

// ProviderDescriptor describes a single external source. Immutable after
// catalog load except Enabled and Tier, which admin overrides may change.
type ProviderDescriptor struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	BaseURL          string       `json:"base_url"`
	SearchURLPattern string       `json:"search_url_pattern"`
	Tier             Tier         `json:"tier"`
	NSFW             bool         `json:"nsfw"`
	Enabled          bool         `json:"enabled"`
	Capabilities     []Capability `json:"capabilities,omitempty"`
	Selectors        SelectorSet  `json:"selectors"`
}

// Validate checks the fields the engine cannot operate without. A descriptor
// failing validation is skipped during catalog load; it never aborts the load.
func (p *ProviderDescriptor) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("provider id is required")
	}

	if p.BaseURL == "" {
		return fmt.Errorf("provider %s: base_url is required", p.ID)
	}

	if _, err := url.Parse(p.BaseURL); err != nil {
		return fmt.Errorf("provider %s: invalid base_url: %w", p.ID, err)
	}

	if p.SearchURLPattern != "" && !strings.Contains(p.SearchURLPattern, "{query}") {
		return fmt.Errorf("provider %s: search_url_pattern must contain {query}", p.ID)
	}

	if p.Tier < TierPrimary {
		return fmt.Errorf("provider %s: tier must be >= 1", p.ID)
	}

	return nil
}

// HasCapability reports whether the provider declares a capability. An empty
// capability list implies search only.
func (p *ProviderDescriptor) HasCapability(c Capability) bool {
	if len(p.Capabilities) == 0 {
		return c == CapabilitySearch
	}

	for _, have := range p.Capabilities {
		if have == c {
			return true
		}
	}

	return false
}

// SearchURL substitutes the escaped query into the provider's search pattern.
// Falls back to the base URL when no pattern is configured.
func (p *ProviderDescriptor) SearchURL(query string) string {
	if p.SearchURLPattern == "" {
		return p.BaseURL
	}

	return strings.ReplaceAll(p.SearchURLPattern, "{query}", url.QueryEscape(query))
}

// ProviderOverride is an admin adjustment applied on top of a catalog
// descriptor. Nil fields leave the catalog value untouched.
type ProviderOverride struct {
	ProviderID string    `json:"provider_id"`
	Enabled    *bool     `json:"enabled,omitempty"`
	Tier       *Tier     `json:"tier,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}
