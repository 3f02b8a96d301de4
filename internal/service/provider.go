// Package service holds the business logic between the HTTP handlers and
// the engine components.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sadewadee/source-orchestrator/internal/cache"
	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/healthmon"
	"github.com/sadewadee/source-orchestrator/internal/logging"
	"github.com/sadewadee/source-orchestrator/internal/ratelimit"
	"github.com/sadewadee/source-orchestrator/internal/registry"
)

// Common errors
var (
	ErrProviderNotFound   = errors.New("provider not found")
	ErrEmptyUpdate        = errors.New("no fields to update")
	ErrInvalidTier        = errors.New("tier must be >= 1")
	ErrInvalidInterval    = errors.New("check interval is not one of the selectable values")
	ErrRefreshUnavailable = errors.New("refresh queue not configured")
	ErrRefreshPending     = errors.New("a refresh for this query is already pending")
)

// ProviderInfo pairs a catalog descriptor with its live health status
type ProviderInfo struct {
	*domain.ProviderDescriptor
	Health *domain.ProviderHealthStatus `json:"health,omitempty"`
}

// UpdateProviderRequest carries an admin override. Nil fields are left
// untouched.
type UpdateProviderRequest struct {
	Enabled              *bool `json:"enabled,omitempty"`
	Tier                 *int  `json:"tier,omitempty"`
	CheckIntervalMinutes *int  `json:"check_interval_minutes,omitempty"`
}

// ProviderService handles provider catalog business logic
type ProviderService struct {
	registry  *registry.Registry
	monitor   *healthmon.Monitor
	limiter   *ratelimit.Limiter
	overrides domain.ProviderOverrideRepository // may be nil
	cache     cache.Cache                       // may be nil
	log       zerolog.Logger
}

// NewProviderService creates a new ProviderService. The overrides repository
// and cache may be nil; overrides then live only in memory and no cached
// searches are invalidated.
func NewProviderService(
	reg *registry.Registry,
	monitor *healthmon.Monitor,
	limiter *ratelimit.Limiter,
	overrides domain.ProviderOverrideRepository,
	c cache.Cache,
) *ProviderService {
	return &ProviderService{
		registry:  reg,
		monitor:   monitor,
		limiter:   limiter,
		overrides: overrides,
		cache:     c,
		log:       logging.WithComponent("ProviderService"),
	}
}

// List returns every catalogued provider with its health status attached
func (s *ProviderService) List(_ context.Context) []ProviderInfo {
	providers := s.registry.All()

	out := make([]ProviderInfo, 0, len(providers))

	for _, p := range providers {
		info := ProviderInfo{ProviderDescriptor: p}

		if status, ok := s.monitor.Status(p.ID); ok {
			info.Health = status
		}

		out = append(out, info)
	}

	return out
}

// Get returns one provider with its health status
func (s *ProviderService) Get(_ context.Context, id string) (*ProviderInfo, error) {
	p, err := s.registry.Get(id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, ErrProviderNotFound
		}

		return nil, fmt.Errorf("failed to get provider: %w", err)
	}

	info := &ProviderInfo{ProviderDescriptor: p}

	if status, ok := s.monitor.Status(id); ok {
		info.Health = status
	}

	return info, nil
}

// Update applies an admin override to a provider, persists it and invalidates
// cached search responses so the change is visible on the next query.
func (s *ProviderService) Update(ctx context.Context, id string, req UpdateProviderRequest) (*ProviderInfo, error) {
	if req.Enabled == nil && req.Tier == nil && req.CheckIntervalMinutes == nil {
		return nil, ErrEmptyUpdate
	}

	if _, err := s.registry.Get(id); err != nil {
		return nil, ErrProviderNotFound
	}

	var tier *domain.Tier

	if req.Tier != nil {
		if *req.Tier < int(domain.TierPrimary) {
			return nil, ErrInvalidTier
		}

		t := domain.Tier(*req.Tier)
		tier = &t

		if err := s.registry.SetTier(id, t); err != nil {
			return nil, fmt.Errorf("failed to set tier: %w", err)
		}
	}

	if req.Enabled != nil {
		if err := s.registry.SetEnabled(id, *req.Enabled); err != nil {
			return nil, fmt.Errorf("failed to set enabled: %w", err)
		}
	}

	if req.CheckIntervalMinutes != nil {
		interval := time.Duration(*req.CheckIntervalMinutes) * time.Minute

		if !domain.ValidCheckInterval(interval) {
			return nil, ErrInvalidInterval
		}

		if err := s.monitor.SetInterval(id, interval); err != nil {
			return nil, fmt.Errorf("failed to set check interval: %w", err)
		}
	}

	if (req.Enabled != nil || req.Tier != nil) && s.overrides != nil {
		override := &domain.ProviderOverride{
			ProviderID: id,
			Enabled:    req.Enabled,
			Tier:       tier,
		}

		if err := s.overrides.Upsert(ctx, override); err != nil {
			s.log.Warn().Err(err).Str("provider", id).Msg("failed to persist provider override")
		}
	}

	s.invalidateSearches(ctx)

	return s.Get(ctx, id)
}

// Test runs an immediate connectivity probe against the provider
func (s *ProviderService) Test(ctx context.Context, id string) (*domain.ProviderHealthStatus, error) {
	status, err := s.monitor.TestNow(ctx, id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, ErrProviderNotFound
		}

		return nil, fmt.Errorf("failed to test provider: %w", err)
	}

	return status, nil
}

// Limits returns the provider's rate-limiter state
func (s *ProviderService) Limits(_ context.Context, id string) (*domain.RateLimitStats, error) {
	if _, err := s.registry.Get(id); err != nil {
		return nil, ErrProviderNotFound
	}

	stats := s.limiter.Stats(id)
	if stats == nil {
		// Registered but never configured; report an empty window.
		return &domain.RateLimitStats{ProviderID: id}, nil
	}

	return stats, nil
}

// invalidateSearches drops cached merged responses after a catalog mutation
func (s *ProviderService) invalidateSearches(ctx context.Context) {
	if s.cache == nil {
		return
	}

	if err := s.cache.DeleteByPattern(ctx, cache.KeyPrefixSearch+":*"); err != nil {
		s.log.Warn().Err(err).Msg("failed to invalidate cached searches")
	}
}
