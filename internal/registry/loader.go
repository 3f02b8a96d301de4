package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

// catalogEntry mirrors one provider configuration record in the catalog
// file. Enabled defaults to true when the field is absent, which the domain
// type cannot express on its own.
type catalogEntry struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	BaseURL          string              `json:"base_url"`
	SearchURLPattern string              `json:"search_url_pattern"`
	Tier             domain.Tier         `json:"tier"`
	NSFW             bool                `json:"nsfw"`
	Enabled          *bool               `json:"enabled"`
	Capabilities     []domain.Capability `json:"capabilities"`
	Selectors        domain.SelectorSet  `json:"selectors"`
}

// LoadFile reads a JSON provider catalog and registers every valid entry.
// A malformed entry fails that provider only; the rest of the catalog still
// loads. Returns the number of providers registered.
func (r *Registry) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read provider catalog: %w", err)
	}

	return r.LoadBytes(data)
}

// LoadBytes registers providers from raw catalog JSON
func (r *Registry) LoadBytes(data []byte) (int, error) {
	var entries []catalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("parse provider catalog: %w", err)
	}

	loaded := 0

	for i := range entries {
		entry := &entries[i]

		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}

		desc := &domain.ProviderDescriptor{
			ID:               entry.ID,
			Name:             entry.Name,
			BaseURL:          entry.BaseURL,
			SearchURLPattern: entry.SearchURLPattern,
			Tier:             entry.Tier,
			NSFW:             entry.NSFW,
			Enabled:          enabled,
			Capabilities:     entry.Capabilities,
			Selectors:        entry.Selectors,
		}

		if err := r.Register(desc); err != nil {
			r.log.Warn().Err(err).Str("provider", entry.ID).Msg("skipping malformed catalog entry")

			continue
		}

		loaded++
	}

	r.log.Info().Int("providers", loaded).Msg("provider catalog loaded")

	return loaded, nil
}
