package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sadewadee/source-orchestrator/internal/cache"
	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/healthmon"
	"github.com/sadewadee/source-orchestrator/internal/logging"
	"github.com/sadewadee/source-orchestrator/internal/registry"
	"github.com/sadewadee/source-orchestrator/internal/repository"
)

// ComponentStatus is one component's slice of the overall health report
type ComponentStatus struct {
	Status         domain.AggregateStatus `json:"status"`
	ResponseTimeMs int64                  `json:"response_time_ms,omitempty"`
	Message        string                 `json:"message,omitempty"`
}

// IndexerStatus is one tiered indexer's entry in a health report
type IndexerStatus struct {
	Status  domain.AggregateStatus `json:"status"`
	Tier    domain.Tier            `json:"tier"`
	Message string                 `json:"message,omitempty"`
}

// HealthComponents groups the monitored components
type HealthComponents struct {
	Database  ComponentStatus          `json:"database"`
	Indexers  map[string]IndexerStatus `json:"indexers"`
	Providers ComponentStatus          `json:"providers"`
}

// HealthSummary folds the component statuses into counters
type HealthSummary struct {
	HealthyComponents   int     `json:"healthy_components"`
	TotalComponents     int     `json:"total_components"`
	HealthPercentage    float64 `json:"health_percentage"`
	TotalResponseTimeMs int64   `json:"total_response_time_ms"`
}

// HealthReport is the full system health response
type HealthReport struct {
	Status     domain.AggregateStatus `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Version    string                 `json:"version"`
	Components HealthComponents       `json:"components"`
	Summary    HealthSummary          `json:"summary"`
}

// QuickReport answers liveness checks without touching anything slow
type QuickReport struct {
	Status    domain.AggregateStatus `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Message   string                 `json:"message"`
}

// IndexerSummary counts indexer health for the indexer report
type IndexerSummary struct {
	HealthyCount     int     `json:"healthy_count"`
	TotalCount       int     `json:"total_count"`
	HealthPercentage float64 `json:"health_percentage"`
}

// IndexerReport is the per-indexer health response
type IndexerReport struct {
	Status         domain.AggregateStatus   `json:"status"`
	Timestamp      time.Time                `json:"timestamp"`
	ResponseTimeMs int64                    `json:"response_time_ms"`
	Summary        IndexerSummary           `json:"summary"`
	Indexers       map[string]IndexerStatus `json:"indexers"`
}

// healthCacheKey stores the assembled overall report between polls
const healthCacheKey = cache.KeyPrefixHealth + ":overall"

// HealthService assembles health reports from the monitor, the registry and
// the database connection
type HealthService struct {
	registry *registry.Registry
	monitor  *healthmon.Monitor
	store    *repository.Store // may be nil
	cache    cache.Cache       // may be nil
	version  string
	log      zerolog.Logger
}

// NewHealthService creates a new HealthService. Store and cache may be nil.
func NewHealthService(
	reg *registry.Registry,
	monitor *healthmon.Monitor,
	store *repository.Store,
	c cache.Cache,
	version string,
) *HealthService {
	return &HealthService{
		registry: reg,
		monitor:  monitor,
		store:    store,
		cache:    c,
		version:  version,
		log:      logging.WithComponent("HealthService"),
	}
}

// Overall builds the full system health report. Reports are cached briefly
// so dashboard polling does not hammer the database ping.
func (s *HealthService) Overall(ctx context.Context) *HealthReport {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, healthCacheKey); err == nil {
			var report HealthReport
			if err := json.Unmarshal(data, &report); err == nil {
				return &report
			}
		}
	}

	db := s.databaseStatus(ctx)

	indexerStart := time.Now()
	entries, indexerStatus, _ := s.indexerEntries(ctx)
	indexerMs := time.Since(indexerStart).Milliseconds()

	providers := s.providerStatus()

	statuses := []domain.AggregateStatus{db.Status, indexerStatus, providers.Status}

	healthy := 0
	for _, st := range statuses {
		if st == domain.StatusHealthy {
			healthy++
		}
	}

	overall := domain.StatusUnhealthy

	switch {
	case healthy == len(statuses):
		overall = domain.StatusHealthy
	case healthy > 0:
		overall = domain.StatusDegraded
	}

	report := &HealthReport{
		Status:    overall,
		Timestamp: time.Now().UTC(),
		Version:   s.version,
		Components: HealthComponents{
			Database:  db,
			Indexers:  entries,
			Providers: providers,
		},
		Summary: HealthSummary{
			HealthyComponents:   healthy,
			TotalComponents:     len(statuses),
			HealthPercentage:    float64(healthy) / float64(len(statuses)) * 100,
			TotalResponseTimeMs: db.ResponseTimeMs + indexerMs,
		},
	}

	if s.cache != nil {
		if data, err := json.Marshal(report); err == nil {
			if err := s.cache.Set(ctx, healthCacheKey, data, cache.TTLHealth); err != nil {
				s.log.Warn().Err(err).Msg("failed to cache health report")
			}
		}
	}

	return report
}

// Quick answers from in-memory state only
func (s *HealthService) Quick() *QuickReport {
	status := domain.StatusHealthy
	message := "service is running"

	if s.monitor.Aggregate() == domain.StatusUnhealthy {
		status = domain.StatusUnhealthy
		message = "no providers are reachable"
	}

	return &QuickReport{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Message:   message,
	}
}

// Indexers builds the per-indexer health report
func (s *HealthService) Indexers(ctx context.Context) *IndexerReport {
	start := time.Now()

	entries, status, healthy := s.indexerEntries(ctx)

	percentage := 0.0
	if len(entries) > 0 {
		percentage = float64(healthy) / float64(len(entries)) * 100
	}

	return &IndexerReport{
		Status:         status,
		Timestamp:      time.Now().UTC(),
		ResponseTimeMs: time.Since(start).Milliseconds(),
		Summary: IndexerSummary{
			HealthyCount:     healthy,
			TotalCount:       len(entries),
			HealthPercentage: percentage,
		},
		Indexers: entries,
	}
}

// History returns the recorded probe log for one provider, newest first
func (s *HealthService) History(ctx context.Context, providerID string, limit int) ([]*domain.HealthCheck, error) {
	if _, err := s.registry.Get(providerID); err != nil {
		return nil, ErrProviderNotFound
	}

	if s.store == nil {
		return []*domain.HealthCheck{}, nil
	}

	checks, err := s.store.HealthChecks.ListByProvider(ctx, providerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list health checks: %w", err)
	}

	return checks, nil
}

// databaseStatus pings the backing database with a short deadline
func (s *HealthService) databaseStatus(ctx context.Context) ComponentStatus {
	if s.store == nil {
		return ComponentStatus{Status: domain.StatusHealthy, Message: "persistence disabled"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()

	if err := s.store.Ping(pingCtx); err != nil {
		return ComponentStatus{
			Status:         domain.StatusUnhealthy,
			ResponseTimeMs: time.Since(start).Milliseconds(),
			Message:        err.Error(),
		}
	}

	return ComponentStatus{
		Status:         domain.StatusHealthy,
		ResponseTimeMs: time.Since(start).Milliseconds(),
		Message:        "connected",
	}
}

// providerStatus summarizes routability across the enabled catalog
func (s *HealthService) providerStatus() ComponentStatus {
	enabled := s.registry.Enabled()

	routable := 0

	for _, p := range enabled {
		if status, ok := s.monitor.Status(p.ID); !ok || status.State.Routable() {
			routable++
		}
	}

	return ComponentStatus{
		Status:  s.monitor.Aggregate(),
		Message: fmt.Sprintf("%d/%d providers routable", routable, len(enabled)),
	}
}

// indexerEntries builds one entry per search-capable enabled provider and
// derives the component status from the tier ladder: healthy while the
// primary tier responds, degraded when only a lower tier does, unhealthy
// when every tier is down.
func (s *HealthService) indexerEntries(ctx context.Context) (map[string]IndexerStatus, domain.AggregateStatus, int) {
	groups := s.registry.Tiers()

	var lastKnown map[string]*domain.HealthCheck

	if s.store != nil {
		if m, err := s.store.HealthChecks.LastByProvider(ctx); err == nil {
			lastKnown = m
		} else {
			s.log.Warn().Err(err).Msg("failed to load last health checks")
		}
	}

	entries := make(map[string]IndexerStatus)

	healthy := 0
	primaryUp := false
	lowerUp := false

	for _, group := range groups {
		tierUp := false

		for _, p := range group.Providers {
			if !p.HasCapability(domain.CapabilitySearch) {
				continue
			}

			entry := s.indexerEntry(p, lastKnown)
			entries[p.ID] = entry

			if entry.Status == domain.StatusHealthy {
				healthy++
			}

			if entry.Status != domain.StatusUnhealthy {
				tierUp = true
			}
		}

		if tierUp {
			if group.Tier == domain.TierPrimary {
				primaryUp = true
			} else {
				lowerUp = true
			}
		}
	}

	status := domain.StatusUnhealthy

	switch {
	case primaryUp:
		status = domain.StatusHealthy
	case lowerUp:
		status = domain.StatusDegraded
	}

	return entries, status, healthy
}

// indexerEntry maps one provider's health state onto an indexer entry. A
// provider the monitor has not probed yet reports the last persisted state
// from the previous run when one exists.
func (s *HealthService) indexerEntry(p *domain.ProviderDescriptor, lastKnown map[string]*domain.HealthCheck) IndexerStatus {
	entry := IndexerStatus{Tier: p.Tier}

	status, ok := s.monitor.Status(p.ID)
	if !ok || status.State == domain.HealthStateUnknown {
		entry.Status = domain.StatusDegraded
		entry.Message = "awaiting first probe"

		if last, found := lastKnown[p.ID]; found {
			entry.Message = fmt.Sprintf("awaiting first probe, last seen %s", last.State)
		}

		return entry
	}

	switch status.State {
	case domain.HealthStateActive:
		entry.Status = domain.StatusHealthy
	case domain.HealthStateDown:
		entry.Status = domain.StatusUnhealthy
		entry.Message = status.LastError
	default:
		entry.Status = domain.StatusDegraded
		entry.Message = status.LastError
	}

	return entry
}
