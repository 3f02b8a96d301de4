package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/source-orchestrator/internal/cache"
	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/ratelimit"
)

type captureOverrides struct {
	upserts []*domain.ProviderOverride
	deleted []string
}

func (c *captureOverrides) Upsert(_ context.Context, o *domain.ProviderOverride) error {
	c.upserts = append(c.upserts, o)

	return nil
}

func (c *captureOverrides) GetAll(context.Context) ([]*domain.ProviderOverride, error) {
	return c.upserts, nil
}

func (c *captureOverrides) Delete(_ context.Context, providerID string) error {
	c.deleted = append(c.deleted, providerID)

	return nil
}

func providerFixture(t *testing.T) (*ProviderService, *captureOverrides, *cache.MemoryCache) {
	t.Helper()

	reg, monitor := healthFixture(t)
	limiter := ratelimit.New(nil)
	t.Cleanup(limiter.Close)

	for _, p := range reg.All() {
		limiter.Configure(p.ID, domain.RateLimitConfig{})
	}

	overrides := &captureOverrides{}
	memCache := cache.NewMemoryCache()

	svc := NewProviderService(reg, monitor, limiter, overrides, memCache)

	return svc, overrides, memCache
}

func TestProviderListIncludesHealth(t *testing.T) {
	svc, _, _ := providerFixture(t)

	providers := svc.List(context.Background())
	require.Len(t, providers, 3)

	// Ordered by tier, with live health attached.
	assert.Equal(t, "primary", providers[0].ID)
	require.NotNil(t, providers[0].Health)
	assert.Equal(t, domain.HealthStateActive, providers[0].Health.State)
}

func TestProviderGetUnknown(t *testing.T) {
	svc, _, _ := providerFixture(t)

	_, err := svc.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestProviderUpdatePersistsOverride(t *testing.T) {
	svc, overrides, _ := providerFixture(t)

	ctx := context.Background()

	enabled := false
	tier := 3

	info, err := svc.Update(ctx, "primary", UpdateProviderRequest{Enabled: &enabled, Tier: &tier})
	require.NoError(t, err)

	assert.False(t, info.Enabled)
	assert.Equal(t, domain.TierTertiary, info.Tier)

	require.Len(t, overrides.upserts, 1)
	saved := overrides.upserts[0]
	assert.Equal(t, "primary", saved.ProviderID)
	require.NotNil(t, saved.Enabled)
	assert.False(t, *saved.Enabled)
	require.NotNil(t, saved.Tier)
	assert.Equal(t, domain.TierTertiary, *saved.Tier)
}

func TestProviderUpdateInvalidatesCachedSearches(t *testing.T) {
	svc, _, memCache := providerFixture(t)

	ctx := context.Background()

	key := cache.SearchKey("berserk", "fallback", false, 0)
	require.NoError(t, memCache.Set(ctx, key, []byte("{}"), cache.TTLSearch))

	enabled := false
	_, err := svc.Update(ctx, "primary", UpdateProviderRequest{Enabled: &enabled})
	require.NoError(t, err)

	_, err = memCache.Get(ctx, key)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestProviderUpdateValidation(t *testing.T) {
	svc, _, _ := providerFixture(t)

	ctx := context.Background()

	_, err := svc.Update(ctx, "primary", UpdateProviderRequest{})
	assert.ErrorIs(t, err, ErrEmptyUpdate)

	badTier := 0
	_, err = svc.Update(ctx, "primary", UpdateProviderRequest{Tier: &badTier})
	assert.ErrorIs(t, err, ErrInvalidTier)

	badInterval := 45
	_, err = svc.Update(ctx, "primary", UpdateProviderRequest{CheckIntervalMinutes: &badInterval})
	assert.ErrorIs(t, err, ErrInvalidInterval)

	enabled := true
	_, err = svc.Update(ctx, "ghost", UpdateProviderRequest{Enabled: &enabled})
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestProviderCheckIntervalUpdate(t *testing.T) {
	svc, overrides, _ := providerFixture(t)

	ctx := context.Background()

	minutes := 60

	info, err := svc.Update(ctx, "primary", UpdateProviderRequest{CheckIntervalMinutes: &minutes})
	require.NoError(t, err)
	require.NotNil(t, info.Health)
	assert.Equal(t, "1h0m0s", info.Health.CheckInterval.String())

	// Interval changes are monitor state, not catalog overrides.
	assert.Empty(t, overrides.upserts)
}

func TestProviderLimits(t *testing.T) {
	svc, _, _ := providerFixture(t)

	ctx := context.Background()

	stats, err := svc.Limits(ctx, "primary")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultRateLimit, stats.Limit)

	_, err = svc.Limits(ctx, "ghost")
	assert.ErrorIs(t, err, ErrProviderNotFound)
}
