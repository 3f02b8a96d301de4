package domain

import (
	"context"
	"time"
)

// ProviderOverrideRepository persists admin adjustments to catalog providers
type ProviderOverrideRepository interface {
	// Upsert stores or replaces the override for a provider
	Upsert(ctx context.Context, override *ProviderOverride) error

	// GetAll retrieves every stored override
	GetAll(ctx context.Context) ([]*ProviderOverride, error)

	// Delete removes the override for a provider
	Delete(ctx context.Context, providerID string) error
}

// ProxyRepository persists proxy endpoints and their health snapshots
type ProxyRepository interface {
	// Create stores a new endpoint
	Create(ctx context.Context, endpoint *ProxyEndpoint) error

	// ListByProvider retrieves all endpoints for a provider
	ListByProvider(ctx context.Context, providerID string) ([]*ProxyEndpoint, error)

	// ListAll retrieves every stored endpoint
	ListAll(ctx context.Context) ([]*ProxyEndpoint, error)

	// UpdateActive flips the active flag for an endpoint
	UpdateActive(ctx context.Context, id string, active bool) error

	// UpdateHealth stores the rolling health snapshot for an endpoint
	UpdateHealth(ctx context.Context, health *ProxyHealth) error

	// Delete removes an endpoint and its health snapshot
	Delete(ctx context.Context, id string) error
}

// HealthCheckRepository persists probe outcomes
type HealthCheckRepository interface {
	// Record stores one probe outcome
	Record(ctx context.Context, check *HealthCheck) error

	// ListByProvider retrieves recent checks for a provider, newest first
	ListByProvider(ctx context.Context, providerID string, limit int) ([]*HealthCheck, error)

	// LastByProvider retrieves the most recent check for every provider
	LastByProvider(ctx context.Context) (map[string]*HealthCheck, error)

	// Prune deletes checks older than the cutoff, returning the number removed
	Prune(ctx context.Context, olderThan time.Time) (int64, error)

	// PruneUnknown deletes checks for providers no longer in the catalog,
	// returning the number removed
	PruneUnknown(ctx context.Context, knownIDs []string) (int64, error)
}
