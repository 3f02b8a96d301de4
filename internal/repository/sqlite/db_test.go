package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sadewadee/source-orchestrator/internal/migration"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := OpenConnection(filepath.Join(t.TempDir(), "orchestrator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(context.Background(), db))

	return db
}

func TestMigrationStateFreshDatabase(t *testing.T) {
	db, err := OpenConnection(filepath.Join(t.TempDir(), "orchestrator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	state, pending, err := MigrationState(context.Background(), db)
	require.NoError(t, err)

	assert.Equal(t, migration.StateFresh, state)
	assert.NotEmpty(t, pending)
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, RunMigrations(context.Background(), db))

	state, pending, err := MigrationState(context.Background(), db)
	require.NoError(t, err)

	assert.Equal(t, migration.StateCurrent, state)
	assert.Empty(t, pending)
}

func TestMigrationStatusListsAppliedVersions(t *testing.T) {
	db := newTestDB(t)

	records, err := migration.Status(context.Background(), db)
	require.NoError(t, err)

	require.NotEmpty(t, records)
	assert.Equal(t, "0001_init", records[0].Version)
	assert.NotEmpty(t, records[0].AppliedAt)
}
