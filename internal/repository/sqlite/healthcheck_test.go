package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

func recordCheck(t *testing.T, repo *HealthCheckRepository, provider string, success bool, at time.Time) *domain.HealthCheck {
	t.Helper()

	state := domain.HealthStateActive
	if !success {
		state = domain.HealthStateDegraded
	}

	check := &domain.HealthCheck{
		ProviderID: provider,
		State:      state,
		Success:    success,
		ResponseMs: 150,
		CheckedAt:  at,
	}
	if !success {
		check.Error = "connection refused"
	}
	require.NoError(t, repo.Record(context.Background(), check))

	return check
}

func TestHealthCheckRecordAssignsID(t *testing.T) {
	repo := NewHealthCheckRepository(newTestDB(t))

	first := recordCheck(t, repo, "alpha", true, time.Now().UTC())
	second := recordCheck(t, repo, "alpha", false, time.Now().UTC())

	assert.Positive(t, first.ID)
	assert.Greater(t, second.ID, first.ID)
}

func TestHealthCheckListByProviderNewestFirst(t *testing.T) {
	repo := NewHealthCheckRepository(newTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC()
	recordCheck(t, repo, "alpha", true, now.Add(-2*time.Hour))
	recordCheck(t, repo, "alpha", false, now.Add(-time.Hour))
	newest := recordCheck(t, repo, "alpha", true, now)
	recordCheck(t, repo, "beta", true, now)

	checks, err := repo.ListByProvider(ctx, "alpha", 2)
	require.NoError(t, err)
	require.Len(t, checks, 2)

	assert.Equal(t, newest.ID, checks[0].ID)
	assert.True(t, checks[0].Success)
	assert.Equal(t, "connection refused", checks[1].Error)
	assert.WithinDuration(t, now, checks[0].CheckedAt, time.Second)
}

func TestHealthCheckLastByProvider(t *testing.T) {
	repo := NewHealthCheckRepository(newTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC()
	recordCheck(t, repo, "alpha", false, now.Add(-time.Hour))
	recordCheck(t, repo, "alpha", true, now)
	recordCheck(t, repo, "beta", false, now)

	last, err := repo.LastByProvider(ctx)
	require.NoError(t, err)
	require.Len(t, last, 2)

	require.Contains(t, last, "alpha")
	assert.True(t, last["alpha"].Success)
	assert.Equal(t, domain.HealthStateActive, last["alpha"].State)

	require.Contains(t, last, "beta")
	assert.False(t, last["beta"].Success)
}

func TestHealthCheckPrune(t *testing.T) {
	repo := NewHealthCheckRepository(newTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC()
	recordCheck(t, repo, "alpha", true, now.Add(-48*time.Hour))
	recordCheck(t, repo, "alpha", true, now)

	removed, err := repo.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	checks, err := repo.ListByProvider(ctx, "alpha", 0)
	require.NoError(t, err)
	require.Len(t, checks, 1)
	assert.WithinDuration(t, now, checks[0].CheckedAt, time.Second)
}

func TestHealthCheckPruneUnknown(t *testing.T) {
	repo := NewHealthCheckRepository(newTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC()
	recordCheck(t, repo, "alpha", true, now)
	recordCheck(t, repo, "beta", true, now)
	recordCheck(t, repo, "ghost", true, now)

	// An empty catalog never wipes history
	removed, err := repo.PruneUnknown(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = repo.PruneUnknown(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	last, err := repo.LastByProvider(ctx)
	require.NoError(t, err)
	assert.Len(t, last, 2)
	assert.NotContains(t, last, "ghost")
}
