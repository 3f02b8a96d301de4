package migration

import (
	"context"
	"database/sql"
	"io/fs"
	"sort"
	"strings"
)

// Dialect selects the SQL flavour used for catalog lookups and placeholders
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// String returns a human-readable name for the dialect
func (d Dialect) String() string {
	switch d {
	case DialectSQLite:
		return "sqlite"
	case DialectPostgres:
		return "postgres"
	default:
		return "unknown"
	}
}

// State represents the current schema state of the database
type State int

const (
	StateFresh   State = iota // no schema_migrations table exists
	StatePending              // at least one embedded migration is unapplied
	StateCurrent              // every embedded migration is applied
)

// String returns a human-readable name for the state
func (s State) String() string {
	switch s {
	case StateFresh:
		return "FreshInstall"
	case StatePending:
		return "PendingMigrations"
	case StateCurrent:
		return "Current"
	default:
		return "Unknown"
	}
}

// Detect checks the database against the embedded migration set and returns
// the schema state plus the versions still waiting to be applied.
func Detect(ctx context.Context, db *sql.DB, dialect Dialect, fsys fs.FS) (State, []string, error) {
	available, err := versions(fsys)
	if err != nil {
		return 0, nil, err
	}

	exists, err := tableExists(ctx, db, dialect, "schema_migrations")
	if err != nil {
		return 0, nil, err
	}

	if !exists {
		return StateFresh, available, nil
	}

	applied, err := appliedSet(ctx, db)
	if err != nil {
		return 0, nil, err
	}

	var pending []string
	for _, v := range available {
		if !applied[v] {
			pending = append(pending, v)
		}
	}

	if len(pending) > 0 {
		return StatePending, pending, nil
	}

	return StateCurrent, nil, nil
}

// tableExists checks for a table using the dialect's catalog
func tableExists(ctx context.Context, db *sql.DB, dialect Dialect, name string) (bool, error) {
	var query string

	switch dialect {
	case DialectPostgres:
		query = `
			SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_name = $1
			)
		`
	default:
		query = `SELECT EXISTS(SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)`
	}

	var exists bool
	if err := db.QueryRowContext(ctx, query, name).Scan(&exists); err != nil {
		return false, err
	}

	return exists, nil
}

// appliedSet reads the recorded migration versions
func appliedSet(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// versions lists the embedded *.up.sql migration versions in apply order
func versions(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, "migrations")
	if err != nil {
		return nil, err
	}

	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			out = append(out, strings.TrimSuffix(entry.Name(), ".up.sql"))
		}
	}
	sort.Strings(out)

	return out, nil
}
