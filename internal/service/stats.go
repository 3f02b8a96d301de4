package service

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/sadewadee/source-orchestrator/internal/cache"
	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/healthmon"
	"github.com/sadewadee/source-orchestrator/internal/logging"
	"github.com/sadewadee/source-orchestrator/internal/proxypool"
	"github.com/sadewadee/source-orchestrator/internal/ratelimit"
	"github.com/sadewadee/source-orchestrator/internal/registry"
)

// statsCacheKey stores the assembled dashboard stats between polls
const statsCacheKey = cache.KeyPrefixStats + ":dashboard"

// StatsService aggregates dashboard statistics across the components
type StatsService struct {
	registry *registry.Registry
	monitor  *healthmon.Monitor
	limiter  *ratelimit.Limiter
	pools    *proxypool.Manager
	search   *SearchService
	cache    cache.Cache // may be nil
	log      zerolog.Logger
}

// NewStatsService creates a new StatsService
func NewStatsService(
	reg *registry.Registry,
	monitor *healthmon.Monitor,
	limiter *ratelimit.Limiter,
	pools *proxypool.Manager,
	search *SearchService,
	c cache.Cache,
) *StatsService {
	return &StatsService{
		registry: reg,
		monitor:  monitor,
		limiter:  limiter,
		pools:    pools,
		search:   search,
		cache:    c,
		log:      logging.WithComponent("StatsService"),
	}
}

// GetStats assembles the dashboard statistics. Snapshots are cached briefly;
// every counter is an in-memory read so staleness is bounded by the TTL.
func (s *StatsService) GetStats(ctx context.Context) *domain.Stats {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, statsCacheKey); err == nil {
			var stats domain.Stats
			if err := json.Unmarshal(data, &stats); err == nil {
				return &stats
			}
		}
	}

	stats := &domain.Stats{
		Providers:  s.providerStats(),
		RateLimits: s.rateLimitStats(),
		Proxies:    s.pools.Stats(),
		Searches:   s.search.Stats(),
	}

	if s.cache != nil {
		if data, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, statsCacheKey, data, cache.TTLStats); err != nil {
				s.log.Warn().Err(err).Msg("failed to cache stats")
			}
		}
	}

	return stats
}

// providerStats counts the catalog by health state
func (s *StatsService) providerStats() domain.ProviderStats {
	out := domain.ProviderStats{}

	for _, p := range s.registry.All() {
		out.Total++

		if p.Enabled {
			out.Enabled++
		}

		status, ok := s.monitor.Status(p.ID)
		if !ok {
			out.Unknown++

			continue
		}

		switch status.State {
		case domain.HealthStateActive:
			out.Active++
		case domain.HealthStateDegraded:
			out.Degraded++
		case domain.HealthStateDown:
			out.Down++
		default:
			out.Unknown++
		}
	}

	return out
}

// rateLimitStats sums limiter counters across every provider
func (s *StatsService) rateLimitStats() domain.RateLimitTotals {
	out := domain.RateLimitTotals{}

	for _, st := range s.limiter.Snapshot() {
		out.TotalRequests += st.TotalRequests
		out.TotalQueued += st.TotalQueued
		out.TotalRejected += st.TotalRejected
		out.QueuedNow += st.QueueLength
	}

	return out
}
