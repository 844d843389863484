package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/weeargh/kiwi/internal/domain/grant"
	"github.com/weeargh/kiwi/internal/repository"
)

const grantColumns = `id, tenant_id, employee_id, grant_date, share_amount, vested_amount,
	status, version, created_at, updated_at`

// GrantRepository implements grant.Repository for SQLite
type GrantRepository struct {
	db *DB
}

// NewGrantRepository creates a new GrantRepository
func NewGrantRepository(db *DB) *GrantRepository {
	return &GrantRepository{db: db}
}

// Create inserts a grant
func (r *GrantRepository) Create(ctx context.Context, g *grant.Grant) error {
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = g.CreatedAt
	}
	if g.Version == 0 {
		g.Version = 1
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO grants (`+grantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.TenantID, g.EmployeeID, g.GrantDate, g.ShareAmount.String(), g.VestedAmount.String(),
		g.Status, g.Version, formatTime(g.CreatedAt), formatTime(g.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create grant: %w", mapConstraint(err))
	}
	return nil
}

// Get fetches a grant by ID
func (r *GrantRepository) Get(ctx context.Context, tenantID, id string) (*grant.Grant, error) {
	return getGrant(ctx, r.db, tenantID, id)
}

// ListActive returns active grants, oldest grant date first
func (r *GrantRepository) ListActive(ctx context.Context, tenantID string) ([]grant.Grant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+grantColumns+`
		FROM grants
		WHERE tenant_id = ? AND status = ?
		ORDER BY grant_date ASC, id ASC`,
		tenantID, grant.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	var grants []grant.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grant rows: %w", err)
	}
	return grants, nil
}

// UpdateStatus sets status when the stored version matches expectedVersion
func (r *GrantRepository) UpdateStatus(ctx context.Context, tenantID, id string, status grant.Status, expectedVersion int64) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE grants
		SET status = ?, version = version + 1, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND version = ?`,
		status, formatTime(time.Now()), tenantID, id, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update grant status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := getGrant(ctx, r.db, tenantID, id); err != nil {
			return err
		}
		return repository.ErrConflict
	}
	return nil
}

func getGrant(ctx context.Context, q querier, tenantID, id string) (*grant.Grant, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+grantColumns+` FROM grants WHERE tenant_id = ? AND id = ?`, tenantID, id)
	g, err := scanGrant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return g, nil
}

func scanGrant(s scanner) (*grant.Grant, error) {
	var (
		g                    grant.Grant
		createdAt, updatedAt string
	)
	if err := s.Scan(
		&g.ID,
		&g.TenantID,
		&g.EmployeeID,
		&g.GrantDate,
		&g.ShareAmount,
		&g.VestedAmount,
		&g.Status,
		&g.Version,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if g.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}
