package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/weeargh/kiwi/internal/domain/tenant"
	"github.com/weeargh/kiwi/internal/repository"
)

// TenantRepository implements tenant.Repository for SQLite
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new TenantRepository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Create inserts a tenant
func (r *TenantRepository) Create(ctx context.Context, t *tenant.Tenant) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Status == "" {
		t.Status = tenant.StatusActive
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, timezone, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Timezone, t.Status, formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", mapConstraint(err))
	}
	return nil
}

// Get fetches a tenant by ID
func (r *TenantRepository) Get(ctx context.Context, id string) (*tenant.Tenant, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, timezone, status, created_at FROM tenants WHERE id = ?`, id)
	t, err := scanTenant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return t, nil
}

// ListActive returns active tenants ordered by ID
func (r *TenantRepository) ListActive(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, timezone, status, created_at FROM tenants WHERE status = ? ORDER BY id`,
		tenant.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenant rows: %w", err)
	}
	return tenants, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(s scanner) (*tenant.Tenant, error) {
	var (
		t         tenant.Tenant
		createdAt string
	)
	if err := s.Scan(&t.ID, &t.Name, &t.Timezone, &t.Status, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &t, nil
}
