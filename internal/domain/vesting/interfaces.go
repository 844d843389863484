package vesting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/audit"
	"github.com/weeargh/kiwi/internal/domain/grant"
	"github.com/weeargh/kiwi/internal/domain/tenant"
)

// Store is the grant store plus vesting ledger. Lookups of a missing grant
// return repository.ErrNotFound.
type Store interface {
	GetGrant(ctx context.Context, tenantID, grantID string) (*grant.Grant, error)
	ListVestDates(ctx context.Context, tenantID, grantID string) ([]civil.Date, error)
	// ListEvents returns a grant's events ordered by vest date.
	ListEvents(ctx context.Context, tenantID, grantID string) ([]Event, error)
	// WithGrantTx runs fn in a transaction scoped to one grant. The transaction
	// commits when fn returns nil and rolls back otherwise.
	WithGrantTx(ctx context.Context, tenantID, grantID string, fn func(tx Tx) error) error
}

// Tx is the view of one grant and its ledger inside a transaction.
type Tx interface {
	GetGrant(ctx context.Context) (*grant.Grant, error)
	ListVestDates(ctx context.Context) ([]civil.Date, error)
	// TryInsert appends ev unless the grant already has an event on ev.VestDate.
	// Losing that race yields AlreadyExists, never an error.
	TryInsert(ctx context.Context, ev *Event) (InsertResult, error)
	// SumVested totals shares_vested over the grant's ledger.
	SumVested(ctx context.Context) (decimal.Decimal, error)
	// CompareAndSwapVested sets vested_amount and bumps the version if the stored
	// version equals expectedVersion. It reports whether the write happened.
	CompareAndSwapVested(ctx context.Context, expectedVersion int64, vested decimal.Decimal) (bool, error)
}

// PriceLookup returns the share price effective on or before a date, or nil.
type PriceLookup interface {
	PriceOnOrBefore(ctx context.Context, tenantID string, date civil.Date) (*decimal.Decimal, error)
}

// AuditSink records vesting changes. Failures never undo a commit.
type AuditSink interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// TenantRegistry lists tenants and resolves their timezones.
type TenantRegistry interface {
	ListActive(ctx context.Context) ([]tenant.Tenant, error)
	Location(ctx context.Context, tenantID string) (*time.Location, error)
}

// GrantLister lists a tenant's active grants.
type GrantLister interface {
	ListActive(ctx context.Context, tenantID string) ([]grant.Grant, error)
}

// Lease guards a batch run against concurrent runs elsewhere.
type Lease interface {
	// Acquire takes key for ttl. ok is false when another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}
