package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

func storedEndpoint(t *testing.T, repo *ProxyRepository, provider string, port int) *domain.ProxyEndpoint {
	t.Helper()

	ep := &domain.ProxyEndpoint{
		ID:         uuid.New().String(),
		ProviderID: provider,
		Scheme:     "http",
		Host:       "proxy.local",
		Port:       port,
		Username:   "user",
		Password:   "secret",
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.Create(context.Background(), ep))

	return ep
}

func TestProxyCreateAndList(t *testing.T) {
	repo := NewProxyRepository(newTestDB(t))
	ctx := context.Background()

	first := storedEndpoint(t, repo, "alpha", 8080)
	storedEndpoint(t, repo, "alpha", 8081)
	storedEndpoint(t, repo, "beta", 9090)

	alpha, err := repo.ListByProvider(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, alpha, 2)

	got := alpha[0]
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "alpha", got.ProviderID)
	assert.Equal(t, "http", got.Scheme)
	assert.Equal(t, "proxy.local", got.Host)
	assert.Equal(t, 8080, got.Port)
	assert.Equal(t, "user", got.Username)
	assert.Equal(t, "secret", got.Password)
	assert.True(t, got.Active)
	assert.WithinDuration(t, first.CreatedAt, got.CreatedAt, time.Second)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestProxyUpdateActive(t *testing.T) {
	repo := NewProxyRepository(newTestDB(t))
	ctx := context.Background()

	ep := storedEndpoint(t, repo, "alpha", 8080)

	require.NoError(t, repo.UpdateActive(ctx, ep.ID, false))

	list, err := repo.ListByProvider(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Active)
}

func TestProxyUpdateHealth(t *testing.T) {
	db := newTestDB(t)
	repo := NewProxyRepository(db)
	ctx := context.Background()

	ep := storedEndpoint(t, repo, "alpha", 8080)

	require.NoError(t, repo.UpdateHealth(ctx, &domain.ProxyHealth{
		ProxyID:          ep.ID,
		ConsecutiveFails: 2,
		SuccessCount:     5,
		FailureCount:     3,
		AvgResponseMs:    120.5,
		Score:            0.81,
		Healthy:          true,
		LastUsedAt:       time.Now().UTC(),
	}))

	var fails, successes, failures int
	var avg, score float64
	var healthy bool
	var lastUsed sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT consecutive_fails, success_count, failure_count, avg_response_ms, score, healthy, last_used_at
		FROM proxies WHERE id = ?
	`, ep.ID).Scan(&fails, &successes, &failures, &avg, &score, &healthy, &lastUsed)
	require.NoError(t, err)

	assert.Equal(t, 2, fails)
	assert.Equal(t, 5, successes)
	assert.Equal(t, 3, failures)
	assert.InDelta(t, 120.5, avg, 0.001)
	assert.InDelta(t, 0.81, score, 0.001)
	assert.True(t, healthy)
	assert.True(t, lastUsed.Valid)
}

func TestProxyDelete(t *testing.T) {
	repo := NewProxyRepository(newTestDB(t))
	ctx := context.Background()

	ep := storedEndpoint(t, repo, "alpha", 8080)

	require.NoError(t, repo.Delete(ctx, ep.ID))

	list, err := repo.ListByProvider(ctx, "alpha")
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, repo.Delete(ctx, ep.ID), sql.ErrNoRows)
}
