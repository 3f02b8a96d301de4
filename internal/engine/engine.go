// Package engine composes the registry, rate limiter, proxy pools, health
// monitor, fetch client and aggregator into one unit with a single owned
// lifecycle. Callers construct an Engine, Start it, and route searches
// through its aggregator; Stop shuts the background loops down.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sadewadee/source-orchestrator/internal/aggregator"
	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/fetch"
	"github.com/sadewadee/source-orchestrator/internal/healthmon"
	"github.com/sadewadee/source-orchestrator/internal/logging"
	"github.com/sadewadee/source-orchestrator/internal/metrics"
	"github.com/sadewadee/source-orchestrator/internal/proxypool"
	"github.com/sadewadee/source-orchestrator/internal/ratelimit"
	"github.com/sadewadee/source-orchestrator/internal/registry"
	"github.com/sadewadee/source-orchestrator/internal/repository"
)

// DefaultHistoryRetention bounds how far back the probe log is kept
const DefaultHistoryRetention = 30 * 24 * time.Hour

// Config wires the engine. Store, Sink and Metrics may be nil; a nil Store
// runs the engine fully in memory.
type Config struct {
	// CatalogPath names the JSON provider catalog loaded on Start. Empty
	// means no catalog; providers can be registered directly.
	CatalogPath string

	Store   *repository.Store
	Metrics *metrics.Metrics
	Sink    healthmon.EventSink

	FetchTimeout  time.Duration
	UserAgent     string
	MaxConcurrent int

	ProbeResolution time.Duration
	MaxProbes       int

	// RateLimit is applied to every catalogued provider on Start. Zero
	// fields fall back to the domain defaults.
	RateLimit domain.RateLimitConfig

	HistoryRetention time.Duration
}

// Engine owns the orchestration components and their background loops
type Engine struct {
	Registry   *registry.Registry
	Limiter    *ratelimit.Limiter
	Pools      *proxypool.Manager
	Monitor    *healthmon.Monitor
	Fetcher    *fetch.Client
	Searcher   *fetch.Searcher
	Aggregator *aggregator.Aggregator

	store *repository.Store
	cfg   Config
	log   zerolog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New builds the component graph. No I/O happens until Start.
func New(cfg Config) *Engine {
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = DefaultHistoryRetention
	}

	reg := registry.New()
	limiter := ratelimit.New(cfg.Metrics)

	var proxyRepo domain.ProxyRepository
	var healthRepo domain.HealthCheckRepository

	if cfg.Store != nil {
		proxyRepo = cfg.Store.Proxies
		healthRepo = cfg.Store.HealthChecks
	}

	pools := proxypool.New(proxyRepo, cfg.Metrics)

	fetcher := fetch.New(fetch.Config{
		Pools:     pools,
		Timeout:   cfg.FetchTimeout,
		UserAgent: cfg.UserAgent,
	})

	monitor := healthmon.New(healthmon.Config{
		Registry:   reg,
		Prober:     fetcher,
		Repository: healthRepo,
		Sink:       cfg.Sink,
		Metrics:    cfg.Metrics,
		MaxProbes:  cfg.MaxProbes,
		Resolution: cfg.ProbeResolution,
	})

	searcher := fetch.NewSearcher(fetcher)

	agg := aggregator.New(aggregator.Config{
		Registry:      reg,
		Health:        monitor,
		Limiter:       limiter,
		Searcher:      searcher,
		Metrics:       cfg.Metrics,
		MaxConcurrent: cfg.MaxConcurrent,
	})

	return &Engine{
		Registry:   reg,
		Limiter:    limiter,
		Pools:      pools,
		Monitor:    monitor,
		Fetcher:    fetcher,
		Searcher:   searcher,
		Aggregator: agg,
		store:      cfg.Store,
		cfg:        cfg,
		log:        logging.WithComponent("Engine"),
	}
}

// Start migrates the store, loads the catalog and persisted state, configures
// per-provider rate limits and launches the health monitor. The monitor runs
// until ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()

		return errors.New("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	if err := e.bootstrap(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, runCtx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		return e.Monitor.Run(runCtx)
	})

	e.mu.Lock()
	e.cancel = cancel
	e.group = group
	e.mu.Unlock()

	e.log.Info().Int("providers", e.Registry.Len()).Msg("engine started")

	return nil
}

// bootstrap brings persistent and configured state into memory
func (e *Engine) bootstrap(ctx context.Context) error {
	if e.store != nil {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	if e.cfg.CatalogPath != "" {
		if _, err := e.Registry.LoadFile(e.cfg.CatalogPath); err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
	}

	if e.store != nil {
		if err := e.applyOverrides(ctx); err != nil {
			return err
		}

		if err := e.Pools.Load(ctx); err != nil {
			return err
		}

		e.pruneHistory(ctx)
	}

	for _, p := range e.Registry.All() {
		e.Limiter.Configure(p.ID, e.cfg.RateLimit)
	}

	return nil
}

// applyOverrides replays persisted admin overrides onto the catalog and
// deletes the ones whose provider no longer exists
func (e *Engine) applyOverrides(ctx context.Context) error {
	overrides, err := e.store.Overrides.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load overrides: %w", err)
	}

	applied := 0

	for _, o := range overrides {
		if err := e.Registry.ApplyOverride(o); err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				e.log.Warn().Str("provider", o.ProviderID).Msg("dropping override for unknown provider")

				if err := e.store.Overrides.Delete(ctx, o.ProviderID); err != nil {
					e.log.Warn().Err(err).Str("provider", o.ProviderID).Msg("failed to drop stale override")
				}

				continue
			}

			return fmt.Errorf("apply override for %s: %w", o.ProviderID, err)
		}

		applied++
	}

	if applied > 0 {
		e.log.Info().Int("overrides", applied).Msg("provider overrides applied")
	}

	return nil
}

// pruneHistory trims the probe log. Failures only warn; stale history never
// blocks startup.
func (e *Engine) pruneHistory(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-e.cfg.HistoryRetention)

	if removed, err := e.store.HealthChecks.Prune(ctx, cutoff); err != nil {
		e.log.Warn().Err(err).Msg("failed to prune health history")
	} else if removed > 0 {
		e.log.Info().Int64("removed", removed).Msg("pruned old health checks")
	}

	known := make([]string, 0, e.Registry.Len())
	for _, p := range e.Registry.All() {
		known = append(known, p.ID)
	}

	if removed, err := e.store.HealthChecks.PruneUnknown(ctx, known); err != nil {
		e.log.Warn().Err(err).Msg("failed to prune orphaned health checks")
	} else if removed > 0 {
		e.log.Info().Int64("removed", removed).Msg("pruned health checks for removed providers")
	}
}

// Stop cancels the background loops and waits for them to settle, bounded by
// ctx. Safe to call once after Start; a never-started engine returns nil.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	group := e.group
	e.cancel = nil
	e.group = nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	var err error

	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	e.Limiter.Close()

	e.log.Info().Msg("engine stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
