// Package registry holds the catalogue of provider descriptors. Descriptors
// are loaded from a JSON catalog once at startup; admin overrides mutate only
// the enabled flag and tier, atomically, so the next admission check or probe
// sees the change immediately.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/logging"
)

// ErrNotFound is returned when no provider with the given id is registered
var ErrNotFound = errors.New("provider not found")

// Registry is the process-wide provider catalogue. Reads vastly outnumber
// writes after startup.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*domain.ProviderDescriptor
	log       zerolog.Logger
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		providers: make(map[string]*domain.ProviderDescriptor),
		log:       logging.WithComponent("Registry"),
	}
}

// Register adds or replaces a descriptor after validation
func (r *Registry) Register(p *domain.ProviderDescriptor) error {
	if err := p.Validate(); err != nil {
		return err
	}

	cp := *p

	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[cp.ID] = &cp

	return nil
}

// Get returns a copy of the descriptor for id
func (r *Registry) Get(id string) (*domain.ProviderDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *p

	return &cp, nil
}

// All returns every descriptor ordered by tier, then id
func (r *Registry) All() []*domain.ProviderDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedLocked(false)
}

// Enabled returns enabled descriptors ordered by tier, then id
func (r *Registry) Enabled() []*domain.ProviderDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedLocked(true)
}

// sortedLocked copies descriptors out under the read lock
func (r *Registry) sortedLocked(enabledOnly bool) []*domain.ProviderDescriptor {
	out := make([]*domain.ProviderDescriptor, 0, len(r.providers))

	for _, p := range r.providers {
		if enabledOnly && !p.Enabled {
			continue
		}

		cp := *p
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}

		return out[i].ID < out[j].ID
	})

	return out
}

// TierGroup is one tier's worth of enabled providers
type TierGroup struct {
	Tier      domain.Tier
	Providers []*domain.ProviderDescriptor
}

// Tiers groups enabled descriptors by tier in ascending tier order
func (r *Registry) Tiers() []TierGroup {
	enabled := r.Enabled()

	var groups []TierGroup

	for _, p := range enabled {
		if len(groups) == 0 || groups[len(groups)-1].Tier != p.Tier {
			groups = append(groups, TierGroup{Tier: p.Tier})
		}

		last := len(groups) - 1
		groups[last].Providers = append(groups[last].Providers, p)
	}

	return groups
}

// SetEnabled flips a provider's enabled flag
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[id]
	if !ok {
		return ErrNotFound
	}

	p.Enabled = enabled

	return nil
}

// SetTier moves a provider to another tier
func (r *Registry) SetTier(id string, tier domain.Tier) error {
	if tier < domain.TierPrimary {
		return errors.New("tier must be >= 1")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[id]
	if !ok {
		return ErrNotFound
	}

	p.Tier = tier

	return nil
}

// ApplyOverride applies a stored admin override. Unknown providers are
// reported so callers can prune stale overrides.
func (r *Registry) ApplyOverride(o *domain.ProviderOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[o.ProviderID]
	if !ok {
		return ErrNotFound
	}

	if o.Enabled != nil {
		p.Enabled = *o.Enabled
	}

	if o.Tier != nil && *o.Tier >= domain.TierPrimary {
		p.Tier = *o.Tier
	}

	return nil
}

// Len returns the number of registered providers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.providers)
}
