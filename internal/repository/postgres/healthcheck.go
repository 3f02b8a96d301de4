package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

const defaultCheckLimit = 50

// HealthCheckRepository implements domain.HealthCheckRepository for PostgreSQL
type HealthCheckRepository struct {
	db *sql.DB
}

// NewHealthCheckRepository creates a new HealthCheckRepository
func NewHealthCheckRepository(db *sql.DB) *HealthCheckRepository {
	return &HealthCheckRepository{db: db}
}

// Record stores one probe outcome
func (r *HealthCheckRepository) Record(ctx context.Context, check *domain.HealthCheck) error {
	query := `
		INSERT INTO health_checks (provider_id, state, success, response_ms, error_message, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	checkedAt := check.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now().UTC()
	}

	return r.db.QueryRowContext(ctx, query,
		check.ProviderID, check.State, check.Success, check.ResponseMs, check.Error, checkedAt,
	).Scan(&check.ID)
}

// ListByProvider retrieves recent checks for a provider, newest first
func (r *HealthCheckRepository) ListByProvider(ctx context.Context, providerID string, limit int) ([]*domain.HealthCheck, error) {
	if limit <= 0 {
		limit = defaultCheckLimit
	}

	query := `
		SELECT id, provider_id, state, success, response_ms, error_message, checked_at
		FROM health_checks
		WHERE provider_id = $1
		ORDER BY id DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, providerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChecks(rows)
}

// LastByProvider retrieves the most recent check for every provider
func (r *HealthCheckRepository) LastByProvider(ctx context.Context) (map[string]*domain.HealthCheck, error) {
	query := `
		SELECT DISTINCT ON (provider_id)
			id, provider_id, state, success, response_ms, error_message, checked_at
		FROM health_checks
		ORDER BY provider_id, id DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	checks, err := scanChecks(rows)
	if err != nil {
		return nil, err
	}

	last := make(map[string]*domain.HealthCheck, len(checks))
	for _, check := range checks {
		last[check.ProviderID] = check
	}

	return last, nil
}

// Prune deletes checks older than the cutoff, returning the number removed
func (r *HealthCheckRepository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM health_checks WHERE checked_at < $1`

	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// PruneUnknown deletes checks for providers no longer in the catalog,
// returning the number removed
func (r *HealthCheckRepository) PruneUnknown(ctx context.Context, knownIDs []string) (int64, error) {
	if len(knownIDs) == 0 {
		return 0, nil
	}

	query := `DELETE FROM health_checks WHERE provider_id <> ALL($1)`

	result, err := r.db.ExecContext(ctx, query, pq.Array(knownIDs))
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func scanChecks(rows *sql.Rows) ([]*domain.HealthCheck, error) {
	var checks []*domain.HealthCheck
	for rows.Next() {
		check := &domain.HealthCheck{}

		err := rows.Scan(
			&check.ID, &check.ProviderID, &check.State, &check.Success,
			&check.ResponseMs, &check.Error, &check.CheckedAt,
		)
		if err != nil {
			return nil, err
		}

		checks = append(checks, check)
	}

	return checks, rows.Err()
}
