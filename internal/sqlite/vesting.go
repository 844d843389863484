package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/grant"
	"github.com/weeargh/kiwi/internal/domain/vesting"
)

// VestingStore implements vesting.Store for SQLite
type VestingStore struct {
	db *DB
}

// NewVestingStore creates a new VestingStore
func NewVestingStore(db *DB) *VestingStore {
	return &VestingStore{db: db}
}

// GetGrant fetches a grant by ID
func (s *VestingStore) GetGrant(ctx context.Context, tenantID, grantID string) (*grant.Grant, error) {
	return getGrant(ctx, s.db, tenantID, grantID)
}

// ListVestDates returns the dates already recorded for a grant
func (s *VestingStore) ListVestDates(ctx context.Context, tenantID, grantID string) ([]civil.Date, error) {
	return listVestDates(ctx, s.db, tenantID, grantID)
}

// ListEvents returns a grant's ledger ordered by vest date
func (s *VestingStore) ListEvents(ctx context.Context, tenantID, grantID string) ([]vesting.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, grant_id, tenant_id, vest_date, shares_vested, price_per_share, source, created_at
		FROM vesting_events
		WHERE tenant_id = ? AND grant_id = ?
		ORDER BY vest_date ASC`,
		tenantID, grantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list vesting events: %w", err)
	}
	defer rows.Close()

	var events []vesting.Event
	for rows.Next() {
		var (
			ev        vesting.Event
			price     decimal.NullDecimal
			createdAt string
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.GrantID,
			&ev.TenantID,
			&ev.VestDate,
			&ev.SharesVested,
			&price,
			&ev.Source,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan vesting event: %w", err)
		}
		if price.Valid {
			p := price.Decimal
			ev.PricePerShare = &p
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vesting rows: %w", err)
	}
	return events, nil
}

// WithGrantTx runs fn inside one database transaction. Connections from New
// begin IMMEDIATE, so the write lock is held from the first statement.
func (s *VestingStore) WithGrantTx(ctx context.Context, tenantID, grantID string, fn func(tx vesting.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&vestingTx{tx: sqlTx, tenantID: tenantID, grantID: grantID}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type vestingTx struct {
	tx       *sql.Tx
	tenantID string
	grantID  string
}

func (t *vestingTx) GetGrant(ctx context.Context) (*grant.Grant, error) {
	return getGrant(ctx, t.tx, t.tenantID, t.grantID)
}

func (t *vestingTx) ListVestDates(ctx context.Context) ([]civil.Date, error) {
	return listVestDates(ctx, t.tx, t.tenantID, t.grantID)
}

func (t *vestingTx) TryInsert(ctx context.Context, ev *vesting.Event) (vesting.InsertResult, error) {
	var price any
	if ev.PricePerShare != nil {
		price = ev.PricePerShare.String()
	}
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO vesting_events (
			id, grant_id, tenant_id, vest_date, shares_vested, price_per_share, source, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (grant_id, vest_date) DO NOTHING`,
		ev.ID, t.grantID, t.tenantID, ev.VestDate, ev.SharesVested.String(), price, ev.Source, formatTime(ev.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert vesting event: %w", mapConstraint(err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return vesting.AlreadyExists, nil
	}
	return vesting.Inserted, nil
}

// SumVested adds the ledger in Go so decimal TEXT never passes through a float.
func (t *vestingTx) SumVested(ctx context.Context) (decimal.Decimal, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT shares_vested FROM vesting_events WHERE tenant_id = ? AND grant_id = ?`,
		t.tenantID, t.grantID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum vesting events: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var shares decimal.Decimal
		if err := rows.Scan(&shares); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan shares: %w", err)
		}
		sum = sum.Add(shares)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating shares: %w", err)
	}
	return sum, nil
}

func (t *vestingTx) CompareAndSwapVested(ctx context.Context, expectedVersion int64, vested decimal.Decimal) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE grants
		SET vested_amount = ?, version = version + 1, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND version = ?`,
		vested.String(), formatTime(nowUTC()), t.tenantID, t.grantID, expectedVersion,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update vested amount: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := getGrant(ctx, t.tx, t.tenantID, t.grantID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func listVestDates(ctx context.Context, q querier, tenantID, grantID string) ([]civil.Date, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT vest_date FROM vesting_events WHERE tenant_id = ? AND grant_id = ? ORDER BY vest_date`,
		tenantID, grantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list vest dates: %w", err)
	}
	defer rows.Close()

	var dates []civil.Date
	for rows.Next() {
		var d civil.Date
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan vest date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vest dates: %w", err)
	}
	return dates, nil
}

var _ vesting.Store = (*VestingStore)(nil)
