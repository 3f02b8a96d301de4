// Package proxypool keeps per-provider pools of egress proxies, selects one
// per request according to the provider's strategy and deactivates endpoints
// that fail repeatedly. Deactivated endpoints stay in the pool for manual
// reactivation.
package proxypool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/logging"
	"github.com/sadewadee/source-orchestrator/internal/metrics"
)

var (
	// ErrNoProxy means the provider has no active endpoint; callers fall
	// back to a direct connection
	ErrNoProxy = errors.New("no active proxies available")

	// ErrProxyNotFound means the endpoint id is unknown for that provider
	ErrProxyNotFound = errors.New("proxy not found")
)

// degradedResponseMs is where the response-time component of the health
// score bottoms out
const degradedResponseMs = 5000.0

// ProxyStatus pairs an endpoint with its rolling health for the API
type ProxyStatus struct {
	Endpoint domain.ProxyEndpoint `json:"endpoint"`
	Health   domain.ProxyHealth   `json:"health"`
}

// Manager owns every provider's proxy pool. All mutations go through it;
// persistence is best-effort through an optional repository.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*pool

	repo domain.ProxyRepository
	met  *metrics.Metrics
	log  zerolog.Logger
}

type pool struct {
	strategy domain.SelectionStrategy
	entries  []*entry
	cursor   int
}

type entry struct {
	endpoint domain.ProxyEndpoint
	health   domain.ProxyHealth
}

// New creates a manager. Both repo and met may be nil.
func New(repo domain.ProxyRepository, met *metrics.Metrics) *Manager {
	return &Manager{
		pools: make(map[string]*pool),
		repo:  repo,
		met:   met,
		log:   logging.WithComponent("ProxyPool"),
	}
}

// Load hydrates the pools from the repository. Called once on startup;
// a nil repository makes it a no-op.
func (m *Manager) Load(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}

	endpoints, err := m.repo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load proxies: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ep := range endpoints {
		p := m.poolLocked(ep.ProviderID)
		p.entries = append(p.entries, &entry{
			endpoint: *ep,
			health: domain.ProxyHealth{
				ProxyID: ep.ID,
				Healthy: ep.Active,
			},
		})
	}

	m.log.Info().Int("count", len(endpoints)).Msg("proxy pools loaded")

	return nil
}

// AddProxy validates the config, assigns an id and appends the endpoint to
// the provider's pool as active.
func (m *Manager) AddProxy(ctx context.Context, providerID string, cfg domain.ProxyConfig) (*domain.ProxyEndpoint, error) {
	if providerID == "" {
		return nil, fmt.Errorf("provider id is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ep := domain.ProxyEndpoint{
		ID:         uuid.New().String(),
		ProviderID: providerID,
		Scheme:     cfg.Scheme,
		Host:       cfg.Host,
		Port:       cfg.Port,
		Username:   cfg.Username,
		Password:   cfg.Password,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}

	m.mu.Lock()
	p := m.poolLocked(providerID)
	p.entries = append(p.entries, &entry{
		endpoint: ep,
		health:   domain.ProxyHealth{ProxyID: ep.ID, Healthy: true},
	})
	m.mu.Unlock()

	if m.repo != nil {
		if err := m.repo.Create(ctx, &ep); err != nil {
			m.log.Error().Err(err).Str("proxy", ep.ID).Msg("failed to persist proxy")
		}
	}

	m.log.Info().Str("provider", providerID).Str("proxy", ep.ID).
		Str("addr", ep.Addr()).Msg("proxy added")

	return &ep, nil
}

// RemoveProxy deletes the endpoint from the pool entirely
func (m *Manager) RemoveProxy(ctx context.Context, providerID, proxyID string) error {
	m.mu.Lock()

	p, ok := m.pools[providerID]
	if !ok {
		m.mu.Unlock()

		return ErrProxyNotFound
	}

	found := false

	for i, e := range p.entries {
		if e.endpoint.ID == proxyID {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			found = true

			break
		}
	}

	if found && p.cursor >= len(p.entries) {
		p.cursor = 0
	}

	m.mu.Unlock()

	if !found {
		return ErrProxyNotFound
	}

	if m.repo != nil {
		if err := m.repo.Delete(ctx, proxyID); err != nil {
			m.log.Error().Err(err).Str("proxy", proxyID).Msg("failed to delete proxy")
		}
	}

	m.log.Info().Str("provider", providerID).Str("proxy", proxyID).Msg("proxy removed")

	return nil
}

// Reactivate puts a deactivated endpoint back into rotation and clears its
// consecutive failure count. Never automatic.
func (m *Manager) Reactivate(ctx context.Context, providerID, proxyID string) error {
	m.mu.Lock()

	e := m.entryLocked(providerID, proxyID)
	if e == nil {
		m.mu.Unlock()

		return ErrProxyNotFound
	}

	e.endpoint.Active = true
	e.health.ConsecutiveFails = 0
	e.health.Healthy = true

	m.mu.Unlock()

	if m.repo != nil {
		if err := m.repo.UpdateActive(ctx, proxyID, true); err != nil {
			m.log.Error().Err(err).Str("proxy", proxyID).Msg("failed to persist reactivation")
		}
	}

	m.log.Info().Str("provider", providerID).Str("proxy", proxyID).Msg("proxy reactivated")

	return nil
}

// SetStrategy changes how the provider's pool selects endpoints
func (m *Manager) SetStrategy(providerID string, s domain.SelectionStrategy) error {
	if !domain.ValidStrategy(s) {
		return fmt.Errorf("unknown selection strategy %q", s)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.poolLocked(providerID).strategy = s

	return nil
}

// Strategy returns the provider's current selection strategy
func (m *Manager) Strategy(providerID string) domain.SelectionStrategy {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pools[providerID]
	if !ok {
		return domain.StrategyRoundRobin
	}

	return p.strategy
}

// Select picks an active endpoint per the provider's strategy. ErrNoProxy
// when the pool is empty or fully deactivated.
func (m *Manager) Select(providerID string) (*domain.ProxyEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[providerID]
	if !ok {
		return nil, ErrNoProxy
	}

	active := make([]*entry, 0, len(p.entries))

	for _, e := range p.entries {
		if e.endpoint.Active {
			active = append(active, e)
		}
	}

	if len(active) == 0 {
		return nil, ErrNoProxy
	}

	e := p.pick(active)
	m.met.RecordProxySelection(providerID, string(p.strategy))

	ep := e.endpoint

	return &ep, nil
}

// RecordUsage feeds one request outcome back into the endpoint's health.
// Reaching the consecutive failure threshold deactivates the endpoint.
func (m *Manager) RecordUsage(ctx context.Context, providerID, proxyID string, success bool, elapsed time.Duration) {
	m.mu.Lock()

	e := m.entryLocked(providerID, proxyID)
	if e == nil {
		m.mu.Unlock()

		return
	}

	h := &e.health
	h.LastUsedAt = time.Now().UTC()

	if success {
		h.SuccessCount++
		h.ConsecutiveFails = 0

		ms := float64(elapsed.Milliseconds())
		total := h.SuccessCount
		h.AvgResponseMs += (ms - h.AvgResponseMs) / float64(total)
	} else {
		h.FailureCount++
		h.ConsecutiveFails++
	}

	h.Score = scoreLocked(h)
	h.Healthy = e.endpoint.Active && h.ConsecutiveFails < domain.ProxyFailureThreshold

	deactivated := false
	if !success && e.endpoint.Active && h.ConsecutiveFails >= domain.ProxyFailureThreshold {
		e.endpoint.Active = false
		h.Healthy = false
		deactivated = true
	}

	health := *h

	m.mu.Unlock()

	if !success {
		m.met.RecordProxyFailure(providerID)
	}

	if m.repo != nil {
		if err := m.repo.UpdateHealth(ctx, &health); err != nil {
			m.log.Error().Err(err).Str("proxy", proxyID).Msg("failed to persist proxy health")
		}
	}

	if deactivated {
		m.log.Warn().Str("provider", providerID).Str("proxy", proxyID).
			Int("consecutive_fails", health.ConsecutiveFails).
			Msg("proxy deactivated after repeated failures")

		if m.repo != nil {
			if err := m.repo.UpdateActive(ctx, proxyID, false); err != nil {
				m.log.Error().Err(err).Str("proxy", proxyID).Msg("failed to persist deactivation")
			}
		}
	}
}

// HealthScore returns the endpoint's composite score in [0,1]
func (m *Manager) HealthScore(providerID, proxyID string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e := m.entryLocked(providerID, proxyID)
	if e == nil {
		return 0, ErrProxyNotFound
	}

	return e.health.Score, nil
}

// List returns the provider's endpoints with their health, in pool order
func (m *Manager) List(providerID string) []ProxyStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pools[providerID]
	if !ok {
		return nil
	}

	out := make([]ProxyStatus, 0, len(p.entries))

	for _, e := range p.entries {
		out = append(out, ProxyStatus{Endpoint: e.endpoint, Health: e.health})
	}

	return out
}

// ListAll returns every endpoint across all providers
func (m *Manager) ListAll() []ProxyStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ProxyStatus

	for _, p := range m.pools {
		for _, e := range p.entries {
			out = append(out, ProxyStatus{Endpoint: e.endpoint, Health: e.health})
		}
	}

	return out
}

// Stats aggregates pool counts for the stats endpoint
func (m *Manager) Stats() domain.ProxyStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s domain.ProxyStats

	for _, p := range m.pools {
		for _, e := range p.entries {
			s.Total++

			if e.endpoint.Active {
				s.Active++
			} else {
				s.Disabled++
			}
		}
	}

	return s
}

// poolLocked returns the provider's pool, creating it with the round-robin
// default. Caller holds m.mu.
func (m *Manager) poolLocked(providerID string) *pool {
	p, ok := m.pools[providerID]
	if !ok {
		p = &pool{strategy: domain.StrategyRoundRobin}
		m.pools[providerID] = p
	}

	return p
}

// entryLocked finds an endpoint by id. Caller holds m.mu.
func (m *Manager) entryLocked(providerID, proxyID string) *entry {
	p, ok := m.pools[providerID]
	if !ok {
		return nil
	}

	for _, e := range p.entries {
		if e.endpoint.ID == proxyID {
			return e
		}
	}

	return nil
}

// scoreLocked combines success rate and response time, weighted 70/30
func scoreLocked(h *domain.ProxyHealth) float64 {
	responseScore := 1.0 - h.AvgResponseMs/degradedResponseMs
	if responseScore < 0 {
		responseScore = 0
	}

	return h.SuccessRate()*0.7 + responseScore*0.3
}
