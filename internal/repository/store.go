// Package repository selects and wires the persistence backend from the
// configured database URL.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sadewadee/source-orchestrator/internal/domain"
	"github.com/sadewadee/source-orchestrator/internal/migration"
	"github.com/sadewadee/source-orchestrator/internal/repository/postgres"
	"github.com/sadewadee/source-orchestrator/internal/repository/sqlite"
)

// DefaultSQLitePath is the database file used when no URL is configured
const DefaultSQLitePath = "orchestrator.db"

// Store bundles an open connection with the backend's repositories
type Store struct {
	DB           *sql.DB
	Overrides    domain.ProviderOverrideRepository
	Proxies      domain.ProxyRepository
	HealthChecks domain.HealthCheckRepository

	dialect migration.Dialect
}

// Open connects to the database named by dsn. URLs with a postgres scheme use
// the PostgreSQL backend; anything else is treated as a SQLite path, with an
// empty dsn falling back to DefaultSQLitePath.
func Open(dsn string) (*Store, error) {
	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")

	if isPostgres {
		db, err := postgres.OpenConnection(dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		repos := postgres.NewRepositories(db)

		return &Store{
			DB:           db,
			Overrides:    repos.Overrides,
			Proxies:      repos.Proxies,
			HealthChecks: repos.HealthChecks,
			dialect:      migration.DialectPostgres,
		}, nil
	}

	if dsn == "" {
		dsn = DefaultSQLitePath
	}

	db, err := sqlite.OpenConnection(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repos := sqlite.NewRepositories(db)

	return &Store{
		DB:           db,
		Overrides:    repos.Overrides,
		Proxies:      repos.Proxies,
		HealthChecks: repos.HealthChecks,
		dialect:      migration.DialectSQLite,
	}, nil
}

// Migrate applies the backend's embedded migrations
func (s *Store) Migrate(ctx context.Context) error {
	if s.dialect == migration.DialectPostgres {
		return postgres.RunMigrations(ctx, s.DB)
	}

	return sqlite.RunMigrations(ctx, s.DB)
}

// MigrationState reports the schema state against the embedded migrations
func (s *Store) MigrationState(ctx context.Context) (migration.State, []string, error) {
	if s.dialect == migration.DialectPostgres {
		return postgres.MigrationState(ctx, s.DB)
	}

	return sqlite.MigrationState(ctx, s.DB)
}

// Dialect returns the active backend dialect
func (s *Store) Dialect() migration.Dialect {
	return s.dialect
}

// Ping verifies the connection is alive
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Close releases the connection pool
func (s *Store) Close() error {
	return s.DB.Close()
}
