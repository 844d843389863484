package api

import (
	"github.com/shopspring/decimal"
	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/grant"
	"github.com/weeargh/kiwi/internal/domain/vesting"
)

type CreateGrantParams struct {
	ID          string          `json:"id,omitempty"`
	EmployeeID  string          `json:"employee_id"`
	GrantDate   civil.Date      `json:"grant_date"`
	ShareAmount decimal.Decimal `json:"share_amount"`
}

type GrantIDParams struct {
	GrantID string `json:"grant_id"`
}

type TerminateGrantParams struct {
	GrantID         string `json:"grant_id"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

type ProcessGrantParams struct {
	GrantID string `json:"grant_id" jsonschema:"ID of the grant to vest"`
	// AsOf defaults to today in the tenant's timezone.
	AsOf *civil.Date `json:"as_of,omitempty" jsonschema:"vest up to this date (YYYY-MM-DD), defaults to tenant-local today"`
}

type RecordManualParams struct {
	GrantID  string          `json:"grant_id"`
	VestDate civil.Date      `json:"vest_date"`
	Shares   decimal.Decimal `json:"shares"`
}

type RecordPriceParams struct {
	EffectiveDate civil.Date      `json:"effective_date"`
	PricePerShare decimal.Decimal `json:"price_per_share"`
}

type GetPriceParams struct {
	Date civil.Date `json:"date"`
}

type ListAuditParams struct {
	EntityID string `json:"entity_id,omitempty"`
	Action   string `json:"action,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

type CreateGrantResponse struct {
	Grant *grant.Grant `json:"grant"`
	// HookError reports a failed post-create vesting handoff; the grant is
	// committed regardless and the daily batch catches it up.
	HookError string `json:"hook_error,omitempty"`
}

type ProcessGrantResponse struct {
	GrantID       string          `json:"grant_id"`
	AsOf          *civil.Date     `json:"as_of,omitempty"`
	EventsCreated int             `json:"events_created"`
	Events        []vesting.Event `json:"events"`
	VestedAmount  decimal.Decimal `json:"vested_amount"`
	ShareAmount   decimal.Decimal `json:"share_amount"`
}

type ScheduleEntry struct {
	Date   civil.Date      `json:"date"`
	Shares decimal.Decimal `json:"shares"`
	Vested bool            `json:"vested"`
}

type ScheduleResponse struct {
	GrantID      string          `json:"grant_id"`
	GrantDate    civil.Date      `json:"grant_date"`
	ShareAmount  decimal.Decimal `json:"share_amount"`
	VestedAmount decimal.Decimal `json:"vested_amount"`
	CliffDate    civil.Date      `json:"cliff_date"`
	Entries      []ScheduleEntry `json:"entries"`
}

type EventsResponse struct {
	GrantID     string          `json:"grant_id"`
	TotalVested decimal.Decimal `json:"total_vested"`
	Events      []vesting.Event `json:"events"`
}

type PriceResponse struct {
	Date          civil.Date       `json:"date"`
	PricePerShare *decimal.Decimal `json:"price_per_share"`
}
