// Package aggregator fans a search out across tiered providers, applying
// rate-limit admission and health eligibility per provider, and merges the
// per-provider results into one deduplicated, confidence-ranked list.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/logging"
	"github.com/sadewadee/source-orchestrator/internal/metrics"
	"github.com/sadewadee/source-orchestrator/internal/ratelimit"
	"github.com/sadewadee/source-orchestrator/internal/registry"
)

// ErrNoEligibleProviders is returned when every tier comes up empty before a
// single provider could be queried
var ErrNoEligibleProviders = errors.New("no eligible providers in any tier")

// DefaultMaxConcurrent caps simultaneous outbound searches across all
// providers, independent of per-provider rate limits
const DefaultMaxConcurrent = 10

// Searcher runs one provider search
type Searcher interface {
	Search(ctx context.Context, provider *domain.ProviderDescriptor, query string) ([]domain.Metadata, error)
}

// Health gates tier eligibility and absorbs search outcomes into the shared
// failure counters
type Health interface {
	Status(providerID string) (*domain.ProviderHealthStatus, bool)
	RecordOutcome(providerID string, success bool, responseMs int64, errMsg string)
}

// Admitter pushes provider calls through rate-limit admission and queueing
type Admitter interface {
	Enqueue(ctx context.Context, providerID string, priority int, task ratelimit.Task) error
}

// Config wires the aggregator's collaborators. Metrics may be nil.
type Config struct {
	Registry      *registry.Registry
	Health        Health
	Limiter       Admitter
	Searcher      Searcher
	Metrics       *metrics.Metrics
	MaxConcurrent int
}

// Aggregator executes tiered searches. Stateless between calls apart from
// counters.
type Aggregator struct {
	registry *registry.Registry
	health   Health
	limiter  Admitter
	searcher Searcher
	met      *metrics.Metrics
	log      zerolog.Logger

	sem chan struct{}

	searches atomic.Int64
	merged   atomic.Int64
}

// New creates an aggregator
func New(cfg Config) *Aggregator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}

	return &Aggregator{
		registry: cfg.Registry,
		health:   cfg.Health,
		limiter:  cfg.Limiter,
		searcher: cfg.Searcher,
		met:      cfg.Metrics,
		log:      logging.WithComponent("Aggregator"),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Search walks the tiers in order. In fallback mode it stops at the first
// tier that yields results; in aggregate mode it queries every eligible tier
// and merges. Per-provider failures never abort the whole search.
func (a *Aggregator) Search(ctx context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is empty")
	}

	if opts.Mode == "" {
		opts.Mode = domain.SearchModeFallback
	}

	if opts.Timeout <= 0 {
		opts.Timeout = domain.DefaultSearchTimeout
	}

	a.searches.Add(1)

	start := time.Now()

	var (
		collected []domain.Metadata
		outcomes  []domain.ProviderOutcome
		attempted int
	)

	for _, group := range a.registry.Tiers() {
		eligible, skipped := a.eligible(group.Providers, opts)
		outcomes = append(outcomes, skipped...)

		if len(eligible) == 0 {
			continue
		}

		attempted += len(eligible)

		tierResults, tierOutcomes := a.fanOut(ctx, eligible, query, opts)
		collected = append(collected, tierResults...)
		outcomes = append(outcomes, tierOutcomes...)

		if opts.Mode == domain.SearchModeFallback && len(tierResults) > 0 {
			break
		}
	}

	if attempted == 0 {
		a.met.RecordSearch(string(opts.Mode), string(domain.StatusUnhealthy), time.Since(start), 0)

		return nil, ErrNoEligibleProviders
	}

	results, duplicates := Merge(collected)
	a.merged.Add(int64(duplicates))

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	status := overallStatus(outcomes)
	took := time.Since(start)

	a.met.RecordSearch(string(opts.Mode), string(status), took, len(results))

	a.log.Debug().Str("query", query).Str("mode", string(opts.Mode)).
		Int("providers", attempted).Int("results", len(results)).
		Int("duplicates", duplicates).Dur("took", took).
		Msg("search completed")

	return &domain.SearchResponse{
		Query:     query,
		Mode:      opts.Mode,
		Status:    status,
		Results:   results,
		Providers: outcomes,
		TookMs:    took.Milliseconds(),
	}, nil
}

// Stats reports search counters since process start. The cache-hit column is
// filled in by the caching layer above.
func (a *Aggregator) Stats() domain.SearchStats {
	return domain.SearchStats{
		Total:  a.searches.Load(),
		Merged: a.merged.Load(),
	}
}

// eligible filters one tier's providers by capability, NSFW preference and
// health state. Skips come back as outcomes so callers can see why a
// provider sat out.
func (a *Aggregator) eligible(providers []*domain.ProviderDescriptor, opts domain.SearchOptions) ([]*domain.ProviderDescriptor, []domain.ProviderOutcome) {
	var (
		in      []*domain.ProviderDescriptor
		skipped []domain.ProviderOutcome
	)

	for _, p := range providers {
		if !p.HasCapability(domain.CapabilitySearch) {
			continue
		}

		if p.NSFW && !opts.IncludeNSFW {
			continue
		}

		if status, ok := a.health.Status(p.ID); ok && !status.State.Routable() {
			skipped = append(skipped, domain.ProviderOutcome{
				ProviderID: p.ID,
				Tier:       p.Tier,
				Skipped:    true,
				Error:      string(status.State),
			})

			continue
		}

		in = append(in, p)
	}

	return in, skipped
}

// fanOut queries one tier's providers concurrently. Each call passes through
// rate-limit admission and carries its own timeout; failures are recorded
// against health counters and isolated into outcomes.
func (a *Aggregator) fanOut(ctx context.Context, providers []*domain.ProviderDescriptor, query string, opts domain.SearchOptions) ([]domain.Metadata, []domain.ProviderOutcome) {
	var (
		mu       sync.Mutex
		results  []domain.Metadata
		outcomes []domain.ProviderOutcome
	)

	egroup, ctx := errgroup.WithContext(ctx)

	for _, provider := range providers {
		provider := provider

		egroup.Go(func() error {
			select {
			case a.sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			defer func() { <-a.sem }()

			outcome := a.searchOne(ctx, provider, query, opts)

			mu.Lock()
			results = append(results, outcome.results...)
			outcomes = append(outcomes, outcome.report)
			mu.Unlock()

			// provider failures never fail the group
			return nil
		})
	}

	_ = egroup.Wait()

	return results, outcomes
}

type providerResult struct {
	results []domain.Metadata
	report  domain.ProviderOutcome
}

// searchOne runs a single provider search under admission control and feeds
// the outcome back into health accounting
func (a *Aggregator) searchOne(ctx context.Context, provider *domain.ProviderDescriptor, query string, opts domain.SearchOptions) providerResult {
	var found []domain.Metadata

	start := time.Now()

	err := a.limiter.Enqueue(ctx, provider.ID, opts.Priority, func(taskCtx context.Context) error {
		callCtx, cancel := context.WithTimeout(taskCtx, opts.Timeout)
		defer cancel()

		var searchErr error

		found, searchErr = a.searcher.Search(callCtx, provider, query)

		return searchErr
	})

	elapsed := time.Since(start)

	report := domain.ProviderOutcome{
		ProviderID: provider.ID,
		Tier:       provider.Tier,
		Results:    len(found),
		DurationMs: elapsed.Milliseconds(),
	}

	if err != nil {
		report.Error = err.Error()
		report.Results = 0
		found = nil

		if domain.IsHealthAffecting(err) {
			a.health.RecordOutcome(provider.ID, false, elapsed.Milliseconds(), err.Error())
		}

		a.log.Debug().Str("provider", provider.ID).Err(err).Msg("provider search failed")

		return providerResult{report: report}
	}

	a.health.RecordOutcome(provider.ID, true, elapsed.Milliseconds(), "")

	return providerResult{results: found, report: report}
}

// overallStatus mirrors the health monitor's aggregate logic over the
// providers actually queried in this search
func overallStatus(outcomes []domain.ProviderOutcome) domain.AggregateStatus {
	succeeded := 0
	failed := 0

	for _, o := range outcomes {
		if o.Skipped {
			continue
		}

		if o.Error == "" {
			succeeded++
		} else {
			failed++
		}
	}

	switch {
	case succeeded > 0 && failed == 0:
		return domain.StatusHealthy
	case succeeded > 0:
		return domain.StatusDegraded
	default:
		return domain.StatusUnhealthy
	}
}

