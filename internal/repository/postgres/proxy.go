package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

// ProxyRepository implements domain.ProxyRepository for PostgreSQL
type ProxyRepository struct {
	db *sql.DB
}

// NewProxyRepository creates a new ProxyRepository
func NewProxyRepository(db *sql.DB) *ProxyRepository {
	return &ProxyRepository{db: db}
}

// Create stores a new endpoint
func (r *ProxyRepository) Create(ctx context.Context, endpoint *domain.ProxyEndpoint) error {
	query := `
		INSERT INTO proxies (
			id, provider_id, scheme, host, port,
			username, password, active, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	createdAt := endpoint.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		endpoint.ID, endpoint.ProviderID, endpoint.Scheme, endpoint.Host, endpoint.Port,
		endpoint.Username, endpoint.Password, endpoint.Active, createdAt,
	)

	return err
}

// ListByProvider retrieves all endpoints for a provider
func (r *ProxyRepository) ListByProvider(ctx context.Context, providerID string) ([]*domain.ProxyEndpoint, error) {
	query := `
		SELECT id, provider_id, scheme, host, port, username, password, active, created_at
		FROM proxies
		WHERE provider_id = $1
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

		err := rows.Scan(
			&ep.ID, &ep.ProviderID, &ep.Scheme, &ep.Host, &ep.Port,
			&ep.Username, &ep.Password, &ep.Active, &ep.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		endpoints = append(endpoints, ep)
	}

	return endpoints, rows.Err()
}

// UpdateActive flips the active flag for an endpoint
func (r *ProxyRepository) UpdateActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE proxies SET active = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id, active)

	return err
}

// UpdateHealth stores the rolling health snapshot for an endpoint
func (r *ProxyRepository) UpdateHealth(ctx context.Context, health *domain.ProxyHealth) error {
	query := `
		UPDATE proxies SET
			consecutive_fails = $2,
			success_count = $3,
			failure_count = $4,
			avg_response_ms = $5,
			score = $6,
			healthy = $7,
			last_used_at = $8
		WHERE id = $1
	`

	lastUsed := sql.NullTime{}
	if !health.LastUsedAt.IsZero() {
		lastUsed.Time = health.LastUsedAt
		lastUsed.Valid = true
	}

	_, err := r.db.ExecContext(ctx, query,
		health.ProxyID, health.ConsecutiveFails, health.SuccessCount, health.FailureCount,
		health.AvgResponseMs, health.Score, health.Healthy, lastUsed,
	)

	return err
}

// Delete removes an endpoint
func (r *ProxyRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM proxies WHERE id = $1`
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
