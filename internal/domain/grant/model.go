package grant

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/weeargh/kiwi/internal/civil"
)

// Status is the lifecycle state of a grant.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// SharePrecision is the number of decimal places share quantities carry.
const SharePrecision = 3

// Grant is one equity award to an employee.
//
// VestedAmount always equals the sum of the grant's vesting events and never
// exceeds ShareAmount. Version increments on every write.
type Grant struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	EmployeeID   string          `json:"employee_id"`
	GrantDate    civil.Date      `json:"grant_date"`
	ShareAmount  decimal.Decimal `json:"share_amount"`
	VestedAmount decimal.Decimal `json:"vested_amount"`
	Status       Status          `json:"status"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsActive reports whether the grant may still vest.
func (g *Grant) IsActive() bool {
	return g != nil && g.Status == StatusActive
}

// Unvested returns the shares that have not vested yet.
func (g *Grant) Unvested() decimal.Decimal {
	return g.ShareAmount.Sub(g.VestedAmount)
}

// HasSharePrecision reports whether d fits in SharePrecision decimal places.
func HasSharePrecision(d decimal.Decimal) bool {
	return d.Equal(d.Round(SharePrecision))
}
