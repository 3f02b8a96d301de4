package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/migration"
)

func TestOpenDefaultsToSQLite(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	assert.Equal(t, migration.DialectSQLite, store.Dialect())

	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Ping(ctx))

	state, pending, err := store.MigrationState(ctx)
	require.NoError(t, err)
	assert.Equal(t, migration.StateCurrent, state)
	assert.Empty(t, pending)
}

func TestStoreRepositoriesAreWired(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Migrate(ctx))

	enabled := false
	require.NoError(t, store.Overrides.Upsert(ctx, &domain.ProviderOverride{
		ProviderID: "alpha",
		Enabled:    &enabled,
	}))

	overrides, err := store.Overrides.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, "alpha", overrides[0].ProviderID)

	proxies, err := store.Proxies.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, proxies)

	last, err := store.HealthChecks.LastByProvider(ctx)
	require.NoError(t, err)
	assert.Empty(t, last)
}
