package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

// ProxyRepository implements domain.ProxyRepository for SQLite
type ProxyRepository struct {
	db *sql.DB
}

// NewProxyRepository creates a new ProxyRepository
func NewProxyRepository(db *sql.DB) *ProxyRepository {
	return &ProxyRepository{db: db}
}

// parseTime parses the datetime formats the driver may hand back.
// Values written by Go code are RFC3339; values filled in by column
// defaults use datetime('now'), which is 'YYYY-MM-DD HH:MM:SS'.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	t, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}

	return t, nil
}

// Create stores a new endpoint
func (r *ProxyRepository) Create(ctx context.Context, endpoint *domain.ProxyEndpoint) error {
	query := `
		INSERT INTO proxies (
			id, provider_id, scheme, host, port,
			username, password, active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := endpoint.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		endpoint.ID, endpoint.ProviderID, endpoint.Scheme, endpoint.Host, endpoint.Port,
		endpoint.Username, endpoint.Password, endpoint.Active,
		createdAt.UTC().Format(time.RFC3339),
	)

	return err
}

// ListByProvider retrieves all endpoints for a provider
func (r *ProxyRepository) ListByProvider(ctx context.Context, providerID string) ([]*domain.ProxyEndpoint, error) {
	query := `
		SELECT id, provider_id, scheme, host, port, username, password, active, created_at
		FROM proxies
		WHERE provider_id = ?
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEndpoints(rows)
}

// ListAll retrieves every stored endpoint
func (r *ProxyRepository) ListAll(ctx context.Context) ([]*domain.ProxyEndpoint, error) {
	query := `
		SELECT id, provider_id, scheme, host, port, username, password, active, created_at
		FROM proxies
		ORDER BY provider_id, created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEndpoints(rows)
}

func scanEndpoints(rows *sql.Rows) ([]*domain.ProxyEndpoint, error) {
	var endpoints []*domain.ProxyEndpoint
	for rows.Next() {
		ep := &domain.ProxyEndpoint{}
		var createdAt string

		err := rows.Scan(
			&ep.ID, &ep.ProviderID, &ep.Scheme, &ep.Host, &ep.Port,
			&ep.Username, &ep.Password, &ep.Active, &createdAt,
		)
		if err != nil {
			return nil, err
		}

		ep.CreatedAt, _ = parseTime(createdAt)

		endpoints = append(endpoints, ep)
	}

	return endpoints, rows.Err()
}

// UpdateActive flips the active flag for an endpoint
func (r *ProxyRepository) UpdateActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE proxies SET active = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, active, id)

	return err
}

// UpdateHealth stores the rolling health snapshot for an endpoint
func (r *ProxyRepository) UpdateHealth(ctx context.Context, health *domain.ProxyHealth) error {
	query := `
		UPDATE proxies SET
			consecutive_fails = ?,
			success_count = ?,
			failure_count = ?,
			avg_response_ms = ?,
			score = ?,
			healthy = ?,
			last_used_at = ?
		WHERE id = ?
	`

	lastUsed := sql.NullString{}
	if !health.LastUsedAt.IsZero() {
		lastUsed.String = health.LastUsedAt.UTC().Format(time.RFC3339)
		lastUsed.Valid = true
	}

	_, err := r.db.ExecContext(ctx, query,
		health.ConsecutiveFails, health.SuccessCount, health.FailureCount,
		health.AvgResponseMs, health.Score, health.Healthy, lastUsed,
		health.ProxyID,
	)

	return err
}

// Delete removes an endpoint
func (r *ProxyRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM proxies WHERE id = ?`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	return nil
}
