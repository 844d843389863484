package vesting

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/weeargh/kiwi/internal/civil"
)

// Schedule shape: 48 monthly tranches, nothing vests before the 12th month.
const (
	Months      = 48
	CliffMonths = 12
	// CliffIndex is the 0-based schedule index of the cliff date.
	CliffIndex = CliffMonths - 1
)

// Source is the provenance of a vesting event.
type Source string

const (
	SourceScheduled Source = "scheduled"
	SourceManual    Source = "manual"
)

// Event is one immutable ledger entry: shares of a grant vesting on a date.
type Event struct {
	ID            string           `json:"id"`
	GrantID       string           `json:"grant_id"`
	TenantID      string           `json:"tenant_id"`
	VestDate      civil.Date       `json:"vest_date"`
	SharesVested  decimal.Decimal  `json:"shares_vested"`
	PricePerShare *decimal.Decimal `json:"price_per_share"`
	Source        Source           `json:"source"`
	CreatedAt     time.Time        `json:"created_at"`
}

// InsertResult reports the outcome of a ledger insert.
type InsertResult int

const (
	// Inserted means this call created the event.
	Inserted InsertResult = iota + 1
	// AlreadyExists means an event for the same grant and date was already recorded.
	AlreadyExists
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}
