package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/sadewadee/source-orchestrator/internal/domain"
)

// OverrideRepository implements domain.ProviderOverrideRepository for SQLite
type OverrideRepository struct {
	db *sql.DB
}

// NewOverrideRepository creates a new OverrideRepository
func NewOverrideRepository(db *sql.DB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

// Upsert stores or replaces the override for a provider
func (r *OverrideRepository) Upsert(ctx context.Context, override *domain.ProviderOverride) error {
	query := `
		INSERT INTO provider_overrides (provider_id, enabled, tier, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(provider_id) DO UPDATE SET
			enabled = excluded.enabled,
			tier = excluded.tier,
			updated_at = excluded.updated_at
	`

	enabled := sql.NullBool{}
	if override.Enabled != nil {
		enabled.Bool = *override.Enabled
		enabled.Valid = true
	}

	tier := sql.NullInt64{}
	if override.Tier != nil {
		tier.Int64 = int64(*override.Tier)
		tier.Valid = true
	}

	updatedAt := override.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		override.ProviderID, enabled, tier, updatedAt.UTC().Format(time.RFC3339),
	)

	return err
}

// GetAll retrieves every stored override
func (r *OverrideRepository) GetAll(ctx context.Context) ([]*domain.ProviderOverride, error) {
	query := `
		SELECT provider_id, enabled, tier, updated_at
		FROM provider_overrides
		ORDER BY provider_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overrides []*domain.ProviderOverride
	for rows.Next() {
		o := &domain.ProviderOverride{}
		var enabled sql.NullBool
		var tier sql.NullInt64
		var updatedAt string

		if err := rows.Scan(&o.ProviderID, &enabled, &tier, &updatedAt); err != nil {
			return nil, err
		}

		if enabled.Valid {
			o.Enabled = &enabled.Bool
		}
		if tier.Valid {
			t := domain.Tier(tier.Int64)
			o.Tier = &t
		}
		o.UpdatedAt, _ = parseTime(updatedAt)

		overrides = append(overrides, o)
	}

	return overrides, rows.Err()
}

// Delete removes the override for a provider
func (r *OverrideRepository) Delete(ctx context.Context, providerID string) error {
	query := `DELETE FROM provider_overrides WHERE provider_id = ?`
	_, err := r.db.ExecContext(ctx, query, providerID)

	return err
}
