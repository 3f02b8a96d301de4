package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/sadewadee/source-orchestrator/internal/logging"
	"github.com/sadewadee/source-orchestrator/internal/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// OpenConnection opens a SQLite connection
func OpenConnection(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// The monitor, proxy manager and API all write concurrently
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// RunMigrations applies the embedded migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := migration.Apply(ctx, db, migration.DialectSQLite, migrationsFS, logging.WithComponent("migration"))

	return err
}

// MigrationState reports the schema state against the embedded migrations
func MigrationState(ctx context.Context, db *sql.DB) (migration.State, []string, error) {
	return migration.Detect(ctx, db, migration.DialectSQLite, migrationsFS)
}

// Repositories holds all repository instances
type Repositories struct {
	Overrides    *OverrideRepository
	Proxies      *ProxyRepository
	HealthChecks *HealthCheckRepository
}

// NewRepositories creates all repositories
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		Overrides:    NewOverrideRepository(db),
		Proxies:      NewProxyRepository(db),
		HealthChecks: NewHealthCheckRepository(db),
	}
}
