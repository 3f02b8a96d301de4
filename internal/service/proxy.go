package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/logging"
	"github.com/sadewadee/source-orchestrator/internal/proxypool"
	"github.com/sadewadee/source-orchestrator/internal/registry"
)

// Proxy errors
var (
	ErrProxyNotFound   = errors.New("proxy not found")
	ErrInvalidStrategy = errors.New("unknown selection strategy")
)

// ProxyService manages provider proxy pools on behalf of the API
type ProxyService struct {
	registry *registry.Registry
	pools    *proxypool.Manager
	log      zerolog.Logger
}

// NewProxyService creates a new ProxyService
func NewProxyService(reg *registry.Registry, pools *proxypool.Manager) *ProxyService {
	return &ProxyService{
		registry: reg,
		pools:    pools,
		log:      logging.WithComponent("ProxyService"),
	}
}

// List returns the provider's pool, active and deactivated endpoints alike
func (s *ProxyService) List(_ context.Context, providerID string) ([]proxypool.ProxyStatus, error) {
	if _, err := s.registry.Get(providerID); err != nil {
		return nil, ErrProviderNotFound
	}

	return s.pools.List(providerID), nil
}

// Add registers a new endpoint in the provider's pool
func (s *ProxyService) Add(ctx context.Context, providerID string, cfg domain.ProxyConfig) (*domain.ProxyEndpoint, error) {
	if _, err := s.registry.Get(providerID); err != nil {
		return nil, ErrProviderNotFound
	}

	endpoint, err := s.pools.AddProxy(ctx, providerID, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to add proxy: %w", err)
	}

	s.log.Info().Str("provider", providerID).Str("proxy", endpoint.ID).Msg("proxy added")

	return endpoint, nil
}

// Remove deletes an endpoint and its health record
func (s *ProxyService) Remove(ctx context.Context, providerID, proxyID string) error {
	if _, err := s.registry.Get(providerID); err != nil {
		return ErrProviderNotFound
	}

	if err := s.pools.RemoveProxy(ctx, providerID, proxyID); err != nil {
		if errors.Is(err, proxypool.ErrProxyNotFound) {
			return ErrProxyNotFound
		}

		return fmt.Errorf("failed to remove proxy: %w", err)
	}

	return nil
}

// Reactivate puts a deactivated endpoint back into rotation
func (s *ProxyService) Reactivate(ctx context.Context, providerID, proxyID string) error {
	if _, err := s.registry.Get(providerID); err != nil {
		return ErrProviderNotFound
	}

	if err := s.pools.Reactivate(ctx, providerID, proxyID); err != nil {
		if errors.Is(err, proxypool.ErrProxyNotFound) {
			return ErrProxyNotFound
		}

		return fmt.Errorf("failed to reactivate proxy: %w", err)
	}

	return nil
}

// SetStrategy changes how the provider's pool selects endpoints
func (s *ProxyService) SetStrategy(_ context.Context, providerID string, strategy domain.SelectionStrategy) error {
	if _, err := s.registry.Get(providerID); err != nil {
		return ErrProviderNotFound
	}

	if !domain.ValidStrategy(strategy) {
		return ErrInvalidStrategy
	}

	if err := s.pools.SetStrategy(providerID, strategy); err != nil {
		return fmt.Errorf("failed to set strategy: %w", err)
	}

	return nil
}

// Strategy reports the provider's current selection strategy
func (s *ProxyService) Strategy(_ context.Context, providerID string) (domain.SelectionStrategy, error) {
	if _, err := s.registry.Get(providerID); err != nil {
		return "", ErrProviderNotFound
	}

	return s.pools.Strategy(providerID), nil
}
