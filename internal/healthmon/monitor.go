// Package healthmon probes providers on a per-provider schedule and keeps
// their health state machines current. States move UNKNOWN -> TESTING ->
// ACTIVE/DEGRADED/DOWN; a provider in DOWN returns to ACTIVE on a single
// successful probe.
package healthmon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/logging"
	"github.com/sadewadee/source-orchestrator/internal/metrics"
	"github.com/sadewadee/source-orchestrator/internal/registry"
)

// Prober runs one connectivity check against a provider and returns the
// response time. A lightweight call, never a full search.
type Prober interface {
	Probe(ctx context.Context, provider *domain.ProviderDescriptor) (int64, error)
}

// EventSink receives resolved state transitions. The TESTING interim is not
// reported.
type EventSink interface {
	HealthChanged(ctx context.Context, ev domain.HealthEvent)
}

// DefaultMaxProbes caps concurrent in-flight probes so slow providers cannot
// starve checks of others
const DefaultMaxProbes = 5

// DefaultResolution is how often the scheduler looks for due providers
const DefaultResolution = 30 * time.Second

// Config wires the monitor's collaborators. Repository, Sink and Metrics
// may be nil.
type Config struct {
	Registry   *registry.Registry
	Prober     Prober
	Repository domain.HealthCheckRepository
	Sink       EventSink
	Metrics    *metrics.Metrics
	MaxProbes  int
	Resolution time.Duration
}

// Monitor owns every provider's ProviderHealthStatus. Nothing else mutates
// those records.
type Monitor struct {
	registry *registry.Registry
	prober   Prober
	repo     domain.HealthCheckRepository
	sink     EventSink
	met      *metrics.Metrics
	log      zerolog.Logger

	resolution time.Duration
	sem        chan struct{}

	mu        sync.RWMutex
	providers map[string]*providerState
}

// providerState carries one provider's status behind its own lock so a slow
// probe never blocks reads or probes of other providers
type providerState struct {
	mu       sync.Mutex
	status   domain.ProviderHealthStatus
	resolved domain.HealthState
	probing  bool
}

// New creates a monitor. Probing starts when Run is called.
func New(cfg Config) *Monitor {
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = DefaultMaxProbes
	}

	if cfg.Resolution <= 0 {
		cfg.Resolution = DefaultResolution
	}

	return &Monitor{
		registry:   cfg.Registry,
		prober:     cfg.Prober,
		repo:       cfg.Repository,
		sink:       cfg.Sink,
		met:        cfg.Metrics,
		log:        logging.WithComponent("HealthMonitor"),
		resolution: cfg.Resolution,
		sem:        make(chan struct{}, cfg.MaxProbes),
		providers:  make(map[string]*providerState),
	}
}

// Run probes every enabled provider once, then settles into the scheduler
// loop. Blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info().Dur("resolution", m.resolution).Int("max_probes", cap(m.sem)).
		Msg("health monitor started")

	m.sweep(ctx)

	ticker := time.NewTicker(m.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("health monitor stopped")

			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// TestNow probes a provider immediately, bypassing the schedule. The probe
// updates the same state and counters as a scheduled one.
func (m *Monitor) TestNow(ctx context.Context, providerID string) (*domain.ProviderHealthStatus, error) {
	provider, err := m.registry.Get(providerID)
	if err != nil {
		return nil, err
	}

	m.probe(ctx, provider)

	status, ok := m.Status(providerID)
	if !ok {
		return nil, fmt.Errorf("no health status for provider %s", providerID)
	}

	return status, nil
}

// Status returns a copy of one provider's health status
func (m *Monitor) Status(providerID string) (*domain.ProviderHealthStatus, bool) {
	m.mu.RLock()
	ps, ok := m.providers[providerID]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	status := ps.status

	return &status, true
}

// Snapshot returns a copy of every tracked provider's status
func (m *Monitor) Snapshot() []*domain.ProviderHealthStatus {
	m.mu.RLock()
	states := make([]*providerState, 0, len(m.providers))
	for _, ps := range m.providers {
		states = append(states, ps)
	}
	m.mu.RUnlock()

	out := make([]*domain.ProviderHealthStatus, 0, len(states))

	for _, ps := range states {
		ps.mu.Lock()
		status := ps.status
		ps.mu.Unlock()

		out = append(out, &status)
	}

	return out
}

// Aggregate folds all enabled providers into a single status: healthy when
// every one is ACTIVE, unhealthy when none is routable, degraded otherwise.
func (m *Monitor) Aggregate() domain.AggregateStatus {
	enabled := m.registry.Enabled()
	if len(enabled) == 0 {
		return domain.StatusUnhealthy
	}

	allActive := true
	anyRoutable := false

	for _, p := range enabled {
		status, ok := m.Status(p.ID)
		if !ok {
			allActive = false
			anyRoutable = true

			continue
		}

		if status.State != domain.HealthStateActive {
			allActive = false
		}

		if status.State.Routable() {
			anyRoutable = true
		}
	}

	switch {
	case allActive:
		return domain.StatusHealthy
	case anyRoutable:
		return domain.StatusDegraded
	default:
		return domain.StatusUnhealthy
	}
}

// RecordOutcome feeds a search result into the provider's failure counters.
// Failures stack toward DOWN exactly like probe failures; a success clears
// the streak and recovers a DOWN provider immediately. Probe bookkeeping
// (check totals, uptime, schedule) is untouched.
func (m *Monitor) RecordOutcome(providerID string, success bool, responseMs int64, errMsg string) {
	ps := m.state(providerID)

	ps.mu.Lock()

	st := &ps.status

	if success {
		st.ConsecutiveFails = 0
		st.LastError = ""
	} else {
		st.ConsecutiveFails++
		st.LastError = errMsg
	}

	switch {
	case success && st.State == domain.HealthStateDown:
		st.State = domain.HealthStateActive
	case !success && st.ConsecutiveFails >= domain.FailureThreshold:
		st.State = domain.HealthStateDown
	}

	from := ps.resolved
	to := st.State
	changed := from != to && !ps.probing
	if changed {
		ps.resolved = to
	}

	ps.mu.Unlock()

	if !changed {
		return
	}

	m.met.SetProviderState(providerID, string(to), to.Routable())

	ev := m.log.Info()
	if to == domain.HealthStateDown {
		ev = m.log.Warn()
	}

	ev.Str("provider", providerID).
		Str("from", string(from)).Str("to", string(to)).
		Msg("provider health changed by search outcome")

	if m.sink != nil {
		m.sink.HealthChanged(context.Background(), domain.HealthEvent{
			ProviderID: providerID,
			From:       from,
			To:         to,
			ResponseMs: responseMs,
			Error:      errMsg,
			At:         time.Now().UTC(),
		})
	}
}

// SetInterval overrides one provider's check interval. Takes effect
// immediately; the next due time is recomputed from the last check.
func (m *Monitor) SetInterval(providerID string, interval time.Duration) error {
	if !domain.ValidCheckInterval(interval) {
		return fmt.Errorf("check interval %s is not selectable", interval)
	}

	ps := m.state(providerID)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.status.CheckInterval = interval

	if ps.status.LastCheckedAt.IsZero() {
		ps.status.NextCheckAt = time.Now().UTC()
	} else {
		ps.status.NextCheckAt = ps.status.LastCheckedAt.Add(interval)
	}

	return nil
}

// sweep probes every enabled provider once, concurrently but capped by the
// semaphore, and waits for all of them
func (m *Monitor) sweep(ctx context.Context) {
	enabled := m.registry.Enabled()

	var wg sync.WaitGroup

	for _, provider := range enabled {
		wg.Add(1)

		go func(p *domain.ProviderDescriptor) {
			defer wg.Done()
			m.probe(ctx, p)
		}(provider)
	}

	wg.Wait()

	m.log.Info().Int("providers", len(enabled)).Msg("initial health sweep complete")
}

// tick probes the providers whose next check time has elapsed
func (m *Monitor) tick(ctx context.Context) {
	now := time.Now().UTC()

	for _, provider := range m.registry.Enabled() {
		ps := m.state(provider.ID)

		ps.mu.Lock()
		due := !ps.probing && !now.Before(ps.status.NextCheckAt)
		ps.mu.Unlock()

		if !due {
			continue
		}

		go m.probe(ctx, provider)
	}
}

// probe runs one check against the provider and applies the state machine.
// Safe to call concurrently; overlapping probes of the same provider collapse
// into one.
func (m *Monitor) probe(ctx context.Context, provider *domain.ProviderDescriptor) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-m.sem }()

	ps := m.state(provider.ID)

	ps.mu.Lock()

	if ps.probing {
		ps.mu.Unlock()

		return
	}

	ps.probing = true
	ps.status.State = domain.HealthStateTesting
	ps.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, domain.ProbeTimeout)
	start := time.Now()
	responseMs, err := m.prober.Probe(probeCtx, provider)
	elapsed := time.Since(start)
	cancel()

	if err != nil && responseMs == 0 {
		responseMs = elapsed.Milliseconds()
	}

	now := time.Now().UTC()

	ps.mu.Lock()

	st := &ps.status
	st.TotalChecks++
	st.LastResponseMs = responseMs
	st.LastCheckedAt = now

	if err == nil {
		st.SuccessfulChecks++
		st.ConsecutiveFails = 0
		st.LastError = ""
	} else {
		st.ConsecutiveFails++
		st.LastError = err.Error()
	}

	st.UptimePercent = float64(st.SuccessfulChecks) / float64(st.TotalChecks) * 100
	st.State = nextState(ps.resolved, err == nil, responseMs, st.ConsecutiveFails)
	st.NextCheckAt = now.Add(st.CheckInterval)

	from := ps.resolved
	to := st.State
	changed := from != to
	ps.resolved = to
	ps.probing = false
	status := *st

	ps.mu.Unlock()

	m.met.RecordProbe(provider.ID, err == nil, elapsed)
	m.met.SetProviderState(provider.ID, string(to), to.Routable())

	m.record(ctx, provider.ID, &status, err)

	if !changed {
		return
	}

	ev := m.log.Info()
	if to == domain.HealthStateDown {
		ev = m.log.Warn()
	}

	ev.Str("provider", provider.ID).
		Str("from", string(from)).Str("to", string(to)).
		Int64("response_ms", responseMs).
		Msg("provider health changed")

	if m.sink != nil {
		event := domain.HealthEvent{
			ProviderID: provider.ID,
			From:       from,
			To:         to,
			ResponseMs: responseMs,
			Error:      status.LastError,
			At:         now,
		}
		m.sink.HealthChanged(ctx, event)
	}
}

// record persists the probe outcome, best-effort
func (m *Monitor) record(ctx context.Context, providerID string, status *domain.ProviderHealthStatus, probeErr error) {
	if m.repo == nil {
		return
	}

	check := &domain.HealthCheck{
		ProviderID: providerID,
		State:      status.State,
		Success:    probeErr == nil,
		ResponseMs: status.LastResponseMs,
		Error:      status.LastError,
		CheckedAt:  status.LastCheckedAt,
	}

	if err := m.repo.Record(ctx, check); err != nil {
		m.log.Error().Err(err).Str("provider", providerID).Msg("failed to record health check")
	}
}

// state returns the provider's state record, creating the UNKNOWN seed on
// first sight
func (m *Monitor) state(providerID string) *providerState {
	m.mu.RLock()
	ps, ok := m.providers[providerID]
	m.mu.RUnlock()

	if ok {
		return ps
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ps, ok = m.providers[providerID]; ok {
		return ps
	}

	ps = &providerState{
		status: domain.ProviderHealthStatus{
			ProviderID:    providerID,
			State:         domain.HealthStateUnknown,
			CheckInterval: domain.DefaultCheckInterval,
		},
		resolved: domain.HealthStateUnknown,
	}
	m.providers[providerID] = ps

	return ps
}

// nextState resolves the post-probe state. Success always clears DOWN in a
// single step, even a slow one; failures below the threshold surface as
// DEGRADED.
func nextState(prev domain.HealthState, success bool, responseMs int64, consecutiveFails int) domain.HealthState {
	if success {
		if prev == domain.HealthStateDown {
			return domain.HealthStateActive
		}

		if responseMs >= domain.DegradedResponseTime.Milliseconds() {
			return domain.HealthStateDegraded
		}

		return domain.HealthStateActive
	}

	if consecutiveFails >= domain.FailureThreshold {
		return domain.HealthStateDown
	}

	return domain.HealthStateDegraded
}
