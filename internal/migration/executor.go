package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/rs/zerolog"
)

// Apply runs every unapplied embedded migration in order and records each one
// in schema_migrations. It returns the number of migrations applied.
func Apply(ctx context.Context, db *sql.DB, dialect Dialect, fsys fs.FS, log zerolog.Logger) (int, error) {
	if err := ensureTrackingTable(ctx, db, dialect); err != nil {
		return 0, fmt.Errorf("create migrations table: %w", err)
	}

	available, err := versions(fsys)
	if err != nil {
		return 0, fmt.Errorf("read migrations: %w", err)
	}

	applied, err := appliedSet(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("read applied migrations: %w", err)
	}

	count := 0
	for _, version := range available {
		if applied[version] {
			continue
		}

		content, err := fs.ReadFile(fsys, "migrations/"+version+".up.sql")
		if err != nil {
			return count, fmt.Errorf("read migration %s: %w", version, err)
		}

		log.Info().Str("version", version).Msg("applying migration")

		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return count, fmt.Errorf("apply migration %s: %w", version, err)
		}

		if err := recordVersion(ctx, db, dialect, version); err != nil {
			return count, fmt.Errorf("record migration %s: %w", version, err)
		}

		count++
	}

	return count, nil
}

// Status returns the recorded migration history, oldest first
func Status(ctx context.Context, db *sql.DB) ([]Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT version, applied_at
		FROM schema_migrations
		ORDER BY version
	`)
	if err != nil {
		// Table might not exist yet
		return nil, nil
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Version, &r.AppliedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// Record represents one applied migration
type Record struct {
	Version   string
	AppliedAt string
}

func ensureTrackingTable(ctx context.Context, db *sql.DB, dialect Dialect) error {
	var query string

	switch dialect {
	case DialectPostgres:
		query = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)
		`
	default:
		query = `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TEXT NOT NULL DEFAULT (datetime('now'))
			)
		`
	}

	_, err := db.ExecContext(ctx, query)

	return err
}

func recordVersion(ctx context.Context, db *sql.DB, dialect Dialect, version string) error {
	query := `INSERT INTO schema_migrations (version) VALUES (?)`
	if dialect == DialectPostgres {
		query = `INSERT INTO schema_migrations (version) VALUES ($1)`
	}

	_, err := db.ExecContext(ctx, query, version)

	return err
}
