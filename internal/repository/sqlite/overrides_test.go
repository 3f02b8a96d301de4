package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

func TestOverrideUpsertRoundTrip(t *testing.T) {
	repo := NewOverrideRepository(newTestDB(t))
	ctx := context.Background()

	enabled := false
	tier := domain.TierSecondary
	require.NoError(t, repo.Upsert(ctx, &domain.ProviderOverride{
		ProviderID: "alpha",
		Enabled:    &enabled,
		Tier:       &tier,
	}))

	overrides, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, overrides, 1)

	got := overrides[0]
	assert.Equal(t, "alpha", got.ProviderID)
	require.NotNil(t, got.Enabled)
	assert.False(t, *got.Enabled)
	require.NotNil(t, got.Tier)
	assert.Equal(t, domain.TierSecondary, *got.Tier)
	assert.WithinDuration(t, time.Now(), got.UpdatedAt, 5*time.Second)
}

func TestOverrideUpsertReplacesExisting(t *testing.T) {
	repo := NewOverrideRepository(newTestDB(t))
	ctx := context.Background()

	enabled := false
	require.NoError(t, repo.Upsert(ctx, &domain.ProviderOverride{
		ProviderID: "alpha",
		Enabled:    &enabled,
	}))

	// Second upsert drops the enabled patch and sets a tier instead
	tier := domain.TierTertiary
	require.NoError(t, repo.Upsert(ctx, &domain.ProviderOverride{
		ProviderID: "alpha",
		Tier:       &tier,
	}))

	overrides, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, overrides, 1)

	got := overrides[0]
	assert.Nil(t, got.Enabled)
	require.NotNil(t, got.Tier)
	assert.Equal(t, domain.TierTertiary, *got.Tier)
}

func TestOverrideDelete(t *testing.T) {
	repo := NewOverrideRepository(newTestDB(t))
	ctx := context.Background()

	enabled := true
	require.NoError(t, repo.Upsert(ctx, &domain.ProviderOverride{
		ProviderID: "alpha",
		Enabled:    &enabled,
	}))

	require.NoError(t, repo.Delete(ctx, "alpha"))

	overrides, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, overrides)

	// Deleting a missing override is not an error
	assert.NoError(t, repo.Delete(ctx, "ghost"))
}
