package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/price"
	"github.com/weeargh/kiwi/internal/repository"
)

// PriceRepository implements price.Repository for SQLite
type PriceRepository struct {
	db *DB
}

// NewPriceRepository creates a new PriceRepository
func NewPriceRepository(db *DB) *PriceRepository {
	return &PriceRepository{db: db}
}

// Upsert stores the price for a tenant and effective date
func (r *PriceRepository) Upsert(ctx context.Context, p *price.Price) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = nowUTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO price_history (tenant_id, effective_date, price_per_share, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, effective_date) DO UPDATE SET
			price_per_share = excluded.price_per_share,
			created_at = excluded.created_at`,
		p.TenantID, p.EffectiveDate, p.PricePerShare.String(), formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert price: %w", mapConstraint(err))
	}
	return nil
}

// OnOrBefore returns the latest price effective on or before date. ISO dates
// order correctly as text.
func (r *PriceRepository) OnOrBefore(ctx context.Context, tenantID string, date civil.Date) (*price.Price, error) {
	var (
		p         price.Price
		createdAt string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT tenant_id, effective_date, price_per_share, created_at
		FROM price_history
		WHERE tenant_id = ? AND effective_date <= ?
		ORDER BY effective_date DESC
		LIMIT 1`,
		tenantID, date,
	).Scan(&p.TenantID, &p.EffectiveDate, &p.PricePerShare, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up price: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}
