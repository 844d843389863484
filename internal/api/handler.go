package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/audit"
	"github.com/weeargh/kiwi/internal/domain/grant"
	"github.com/weeargh/kiwi/internal/domain/price"
	"github.com/weeargh/kiwi/internal/domain/tenant"
	"github.com/weeargh/kiwi/internal/domain/vesting"
)

// TenantService defines tenant operations needed by the API.
type TenantService interface {
	Get(ctx context.Context, id string) (*tenant.Tenant, error)
}

// GrantService defines grant operations needed by the API.
type GrantService interface {
	Create(ctx context.Context, tenantID string, req grant.CreateRequest) (*grant.CreateResult, error)
	Get(ctx context.Context, tenantID, id string) (*grant.Grant, error)
	ListActive(ctx context.Context, tenantID string) ([]grant.Grant, error)
	Terminate(ctx context.Context, tenantID string, req grant.TerminateRequest) (*grant.Grant, error)
}

// VestingService defines vesting engine operations needed by the API.
type VestingService interface {
	Process(ctx context.Context, req vesting.ProcessRequest) ([]vesting.Event, error)
	ProcessToday(ctx context.Context, tenantID, grantID, actorID string) ([]vesting.Event, error)
	RecordManual(ctx context.Context, req vesting.ManualRequest) (*vesting.Event, error)
	Events(ctx context.Context, tenantID, grantID string) ([]vesting.Event, error)
	Schedule(ctx context.Context, tenantID, grantID string) (*grant.Grant, vesting.Schedule, error)
}

// BatchService runs the daily vesting batch.
type BatchService interface {
	RunDaily(ctx context.Context) (vesting.Summary, error)
}

// PriceService defines price history operations needed by the API.
type PriceService interface {
	Record(ctx context.Context, tenantID string, date civil.Date, perShare decimal.Decimal, actorID string) (*price.Price, error)
	PriceOnOrBefore(ctx context.Context, tenantID string, date civil.Date) (*decimal.Decimal, error)
}

// AuditService defines audit log queries needed by the API.
type AuditService interface {
	List(ctx context.Context, tenantID string, opts audit.ListOptions) ([]audit.Entry, error)
}

// Services contains the domain services the API dispatches to. Batch, Prices
// and Audit may be nil, in which case their methods are not offered.
type Services struct {
	Tenants TenantService
	Grants  GrantService
	Vesting VestingService
	Batch   BatchService
	Prices  PriceService
	Audit   AuditService
}

// Handler dispatches JSON-RPC methods to domain services.
type Handler struct {
	svc Services
}

// NewHandler creates a new API handler.
func NewHandler(svc Services) *Handler {
	return &Handler{svc: svc}
}

// Handle dispatches one request on behalf of tenantID. actorID is recorded
// in the audit log for writes.
func (h *Handler) Handle(ctx context.Context, tenantID, actorID, method string, params json.RawMessage) (any, error) {
	switch method {
	case "tenant.get":
		t, err := h.svc.Tenants.Get(ctx, tenantID)
		if err != nil {
			return nil, mapError(err)
		}
		return t, nil
	case "grant.create":
		var req CreateGrantParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return h.CreateGrant(ctx, tenantID, actorID, req)
	case "grant.get":
		var req GrantIDParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		g, err := h.svc.Grants.Get(ctx, tenantID, req.GrantID)
		if err != nil {
			return nil, mapError(err)
		}
		return g, nil
	case "grant.list":
		grants, err := h.svc.Grants.ListActive(ctx, tenantID)
		if err != nil {
			return nil, mapError(err)
		}
		if grants == nil {
			grants = []grant.Grant{}
		}
		return grants, nil
	case "grant.terminate":
		var req TerminateGrantParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		g, err := h.svc.Grants.Terminate(ctx, tenantID, grant.TerminateRequest{
			GrantID:         req.GrantID,
			ExpectedVersion: req.ExpectedVersion,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, mapError(err)
		}
		return g, nil
	case "vesting.process":
		var req ProcessGrantParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return h.ProcessGrant(ctx, tenantID, actorID, req)
	case "vesting.record_manual":
		var req RecordManualParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		ev, err := h.svc.Vesting.RecordManual(ctx, vesting.ManualRequest{
			TenantID: tenantID,
			GrantID:  req.GrantID,
			VestDate: req.VestDate,
			Shares:   req.Shares,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, mapError(err)
		}
		return ev, nil
	case "vesting.events":
		var req GrantIDParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return h.Events(ctx, tenantID, req.GrantID)
	case "vesting.schedule":
		var req GrantIDParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		return h.Schedule(ctx, tenantID, req.GrantID)
	case "batch.run_daily":
		return h.RunDaily(ctx)
	case "price.record":
		if h.svc.Prices == nil {
			return nil, methodNotFound(method)
		}
		var req RecordPriceParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		p, err := h.svc.Prices.Record(ctx, tenantID, req.EffectiveDate, req.PricePerShare, actorID)
		if err != nil {
			return nil, mapError(err)
		}
		return p, nil
	case "price.get":
		if h.svc.Prices == nil {
			return nil, methodNotFound(method)
		}
		var req GetPriceParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		if req.Date.IsZero() {
			return nil, invalidParams(errors.New("date is required"))
		}
		perShare, err := h.svc.Prices.PriceOnOrBefore(ctx, tenantID, req.Date)
		if err != nil {
			return nil, mapError(err)
		}
		return PriceResponse{Date: req.Date, PricePerShare: perShare}, nil
	case "audit.list":
		if h.svc.Audit == nil {
			return nil, methodNotFound(method)
		}
		var req ListAuditParams
		if err := decodeParams(params, &req); err != nil {
			return nil, err
		}
		opts := audit.ListOptions{EntityID: req.EntityID, Limit: req.Limit, Offset: req.Offset}
		if req.Action != "" {
			action := audit.Action(req.Action)
			opts.Action = &action
		}
		entries, err := h.svc.Audit.List(ctx, tenantID, opts)
		if err != nil {
			return nil, mapError(err)
		}
		if entries == nil {
			entries = []audit.Entry{}
		}
		return entries, nil
	default:
		return nil, methodNotFound(method)
	}
}

// CreateGrant issues a grant. A failing post-create hook is reported in the
// response, not as an error, because the grant is already committed.
func (h *Handler) CreateGrant(ctx context.Context, tenantID, actorID string, req CreateGrantParams) (*CreateGrantResponse, error) {
	res, err := h.svc.Grants.Create(ctx, tenantID, grant.CreateRequest{
		ID:          req.ID,
		EmployeeID:  req.EmployeeID,
		GrantDate:   req.GrantDate,
		ShareAmount: req.ShareAmount,
		ActorID:     actorID,
	})
	if err != nil {
		return nil, mapError(err)
	}
	resp := &CreateGrantResponse{Grant: res.Grant}
	if res.HookErr != nil {
		resp.HookError = res.HookErr.Error()
	}
	return resp, nil
}

// ProcessGrant vests a grant up to the requested date, or tenant-local today.
func (h *Handler) ProcessGrant(ctx context.Context, tenantID, actorID string, req ProcessGrantParams) (*ProcessGrantResponse, error) {
	if req.GrantID == "" {
		return nil, invalidParams(errors.New("grant_id is required"))
	}
	// Process treats a missing grant as nothing to do; callers of the API
	// get a not-found instead.
	if _, err := h.svc.Grants.Get(ctx, tenantID, req.GrantID); err != nil {
		return nil, mapError(err)
	}

	var (
		events []vesting.Event
		err    error
	)
	if req.AsOf != nil {
		events, err = h.svc.Vesting.Process(ctx, vesting.ProcessRequest{
			TenantID: tenantID,
			GrantID:  req.GrantID,
			AsOf:     *req.AsOf,
			ActorID:  actorID,
		})
	} else {
		events, err = h.svc.Vesting.ProcessToday(ctx, tenantID, req.GrantID, actorID)
	}
	if err != nil {
		return nil, mapError(err)
	}

	g, err := h.svc.Grants.Get(ctx, tenantID, req.GrantID)
	if err != nil {
		return nil, mapError(err)
	}
	if events == nil {
		events = []vesting.Event{}
	}
	return &ProcessGrantResponse{
		GrantID:       g.ID,
		AsOf:          req.AsOf,
		EventsCreated: len(events),
		Events:        events,
		VestedAmount:  g.VestedAmount,
		ShareAmount:   g.ShareAmount,
	}, nil
}

// Events lists a grant's ledger with its running total.
func (h *Handler) Events(ctx context.Context, tenantID, grantID string) (*EventsResponse, error) {
	if grantID == "" {
		return nil, invalidParams(errors.New("grant_id is required"))
	}
	events, err := h.svc.Vesting.Events(ctx, tenantID, grantID)
	if err != nil {
		return nil, mapError(err)
	}
	total := decimal.Zero
	for _, ev := range events {
		total = total.Add(ev.SharesVested)
	}
	if events == nil {
		events = []vesting.Event{}
	}
	return &EventsResponse{GrantID: grantID, TotalVested: total, Events: events}, nil
}

// Schedule returns a grant's lifetime schedule, marking the dates already in
// the ledger.
func (h *Handler) Schedule(ctx context.Context, tenantID, grantID string) (*ScheduleResponse, error) {
	if grantID == "" {
		return nil, invalidParams(errors.New("grant_id is required"))
	}
	g, sched, err := h.svc.Vesting.Schedule(ctx, tenantID, grantID)
	if err != nil {
		return nil, mapError(err)
	}
	events, err := h.svc.Vesting.Events(ctx, tenantID, grantID)
	if err != nil {
		return nil, mapError(err)
	}
	vested := make(map[civil.Date]bool, len(events))
	for _, ev := range events {
		vested[ev.VestDate] = true
	}

	tranches := sched.Events()
	entries := make([]ScheduleEntry, 0, len(tranches))
	for _, t := range tranches {
		entries = append(entries, ScheduleEntry{Date: t.Date, Shares: t.Shares, Vested: vested[t.Date]})
	}
	return &ScheduleResponse{
		GrantID:      g.ID,
		GrantDate:    g.GrantDate,
		ShareAmount:  g.ShareAmount,
		VestedAmount: g.VestedAmount,
		CliffDate:    sched.CliffDate(),
		Entries:      entries,
	}, nil
}

// RunDaily runs the daily batch across all tenants. A partial summary is
// returned alongside a cancellation error.
func (h *Handler) RunDaily(ctx context.Context) (*vesting.Summary, error) {
	if h.svc.Batch == nil {
		return nil, methodNotFound("batch.run_daily")
	}
	summary, err := h.svc.Batch.RunDaily(ctx)
	if err != nil {
		return &summary, fmt.Errorf("running daily batch: %w", err)
	}
	return &summary, nil
}

func decodeParams(params json.RawMessage, out any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, out); err != nil {
		return invalidParams(err)
	}
	return nil
}

func methodNotFound(method string) *Error {
	return &Error{Code: CodeMethodNotFound, Kind: "METHOD_NOT_FOUND", Message: fmt.Sprintf("unknown method: %s", method)}
}
