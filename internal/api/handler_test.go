package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/audit"
	"github.com/weeargh/kiwi/internal/domain/grant"
	"github.com/weeargh/kiwi/internal/domain/price"
	"github.com/weeargh/kiwi/internal/domain/tenant"
	"github.com/weeargh/kiwi/internal/domain/vesting"
	"github.com/weeargh/kiwi/internal/memory"
)

type tenantStub struct {
	getFn func(context.Context, string) (*tenant.Tenant, error)
}

func (t tenantStub) Get(ctx context.Context, id string) (*tenant.Tenant, error) {
	return t.getFn(ctx, id)
}

type grantStub struct {
	createFn    func(context.Context, string, grant.CreateRequest) (*grant.CreateResult, error)
	getFn       func(context.Context, string, string) (*grant.Grant, error)
	listFn      func(context.Context, string) ([]grant.Grant, error)
	terminateFn func(context.Context, string, grant.TerminateRequest) (*grant.Grant, error)
}

func (g grantStub) Create(ctx context.Context, tenantID string, req grant.CreateRequest) (*grant.CreateResult, error) {
	return g.createFn(ctx, tenantID, req)
}
func (g grantStub) Get(ctx context.Context, tenantID, id string) (*grant.Grant, error) {
	return g.getFn(ctx, tenantID, id)
}
func (g grantStub) ListActive(ctx context.Context, tenantID string) ([]grant.Grant, error) {
	return g.listFn(ctx, tenantID)
}
func (g grantStub) Terminate(ctx context.Context, tenantID string, req grant.TerminateRequest) (*grant.Grant, error) {
	return g.terminateFn(ctx, tenantID, req)
}

type batchStub struct {
	summary vesting.Summary
	err     error
}

func (b batchStub) RunDaily(context.Context) (vesting.Summary, error) {
	return b.summary, b.err
}

type priceStub struct {
	recordFn func(context.Context, string, civil.Date, decimal.Decimal, string) (*price.Price, error)
	lookupFn func(context.Context, string, civil.Date) (*decimal.Decimal, error)
}

func (p priceStub) Record(ctx context.Context, tenantID string, date civil.Date, perShare decimal.Decimal, actorID string) (*price.Price, error) {
	return p.recordFn(ctx, tenantID, date, perShare, actorID)
}
func (p priceStub) PriceOnOrBefore(ctx context.Context, tenantID string, date civil.Date) (*decimal.Decimal, error) {
	return p.lookupFn(ctx, tenantID, date)
}

type auditStub struct {
	listFn func(context.Context, string, audit.ListOptions) ([]audit.Entry, error)
}

func (a auditStub) List(ctx context.Context, tenantID string, opts audit.ListOptions) ([]audit.Entry, error) {
	return a.listFn(ctx, tenantID, opts)
}

// storeGrants serves grant reads from the same memory store the processor
// writes to.
func storeGrants(store *memory.Store) grantStub {
	return grantStub{
		getFn: func(ctx context.Context, tenantID, id string) (*grant.Grant, error) {
			g, err := store.GetGrant(ctx, tenantID, id)
			if err != nil {
				return nil, grant.ErrGrantNotFound
			}
			return g, nil
		},
	}
}

func vestingFixture(t *testing.T) (*Handler, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	store.PutGrant(grant.Grant{
		ID:           "g1",
		TenantID:     "t1",
		EmployeeID:   "emp-1",
		GrantDate:    civil.MustParse("2023-01-15"),
		ShareAmount:  decimal.NewFromInt(4800),
		VestedAmount: decimal.Zero,
		Status:       grant.StatusActive,
		Version:      1,
	})
	proc := vesting.NewProcessor(store, nil, nil, nil, nil)
	h := NewHandler(Services{Grants: storeGrants(store), Vesting: proc})
	return h, store
}

func TestHandleProcessAndSchedule(t *testing.T) {
	h, _ := vestingFixture(t)
	ctx := context.Background()

	res, err := h.Handle(ctx, "t1", "admin", "vesting.process", json.RawMessage(`{"grant_id":"g1","as_of":"2024-03-20"}`))
	require.NoError(t, err)
	processed := res.(*ProcessGrantResponse)
	require.Equal(t, 3, processed.EventsCreated)
	assert.True(t, processed.VestedAmount.Equal(decimal.NewFromInt(1400)))
	assert.True(t, processed.ShareAmount.Equal(decimal.NewFromInt(4800)))

	res, err = h.Handle(ctx, "t1", "admin", "vesting.schedule", json.RawMessage(`{"grant_id":"g1"}`))
	require.NoError(t, err)
	sched := res.(*ScheduleResponse)
	assert.Equal(t, "2024-01-15", sched.CliffDate.String())
	require.Len(t, sched.Entries, 37)
	assert.True(t, sched.Entries[0].Shares.Equal(decimal.NewFromInt(1200)))
	assert.True(t, sched.Entries[2].Vested)
	assert.False(t, sched.Entries[3].Vested)

	res, err = h.Handle(ctx, "t1", "admin", "vesting.events", json.RawMessage(`{"grant_id":"g1"}`))
	require.NoError(t, err)
	events := res.(*EventsResponse)
	require.Len(t, events.Events, 3)
	assert.True(t, events.TotalVested.Equal(decimal.NewFromInt(1400)))
}

func TestHandleProcessRerunIsEmpty(t *testing.T) {
	h, _ := vestingFixture(t)
	params := json.RawMessage(`{"grant_id":"g1","as_of":"2024-03-20"}`)

	_, err := h.Handle(context.Background(), "t1", "admin", "vesting.process", params)
	require.NoError(t, err)
	res, err := h.Handle(context.Background(), "t1", "admin", "vesting.process", params)
	require.NoError(t, err)
	processed := res.(*ProcessGrantResponse)
	assert.Zero(t, processed.EventsCreated)
	assert.NotNil(t, processed.Events)
}

func TestHandleProcessErrors(t *testing.T) {
	h, _ := vestingFixture(t)
	ctx := context.Background()

	_, err := h.Handle(ctx, "t1", "admin", "vesting.process", json.RawMessage(`{"grant_id":"nope","as_of":"2024-03-20"}`))
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeNotFound, apiErr.Code)

	_, err = h.Handle(ctx, "t1", "admin", "vesting.process", json.RawMessage(`{"grant_id":"g1","as_of":"2024-02-30"}`))
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeInvalidParams, apiErr.Code)

	_, err = h.Handle(ctx, "t1", "admin", "vesting.process", json.RawMessage(`{}`))
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeInvalidParams, apiErr.Code)
}

func TestHandleRecordManual(t *testing.T) {
	h, store := vestingFixture(t)
	ctx := context.Background()

	res, err := h.Handle(ctx, "t1", "admin", "vesting.record_manual", json.RawMessage(`{"grant_id":"g1","vest_date":"2023-06-01","shares":"10.5"}`))
	require.NoError(t, err)
	ev := res.(*vesting.Event)
	assert.Equal(t, vesting.SourceManual, ev.Source)

	_, err = h.Handle(ctx, "t1", "admin", "vesting.record_manual", json.RawMessage(`{"grant_id":"g1","vest_date":"2023-06-01","shares":"1"}`))
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "DUPLICATE_VEST_DATE", apiErr.Kind)

	_, err = h.Handle(ctx, "t1", "admin", "vesting.record_manual", json.RawMessage(`{"grant_id":"g1","vest_date":"2023-07-01","shares":"5000"}`))
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeRuleViolation, apiErr.Code)

	g, err := store.GetGrant(ctx, "t1", "g1")
	require.NoError(t, err)
	assert.True(t, g.VestedAmount.Equal(decimal.RequireFromString("10.5")))
}

func TestHandleGrantCreate(t *testing.T) {
	var got grant.CreateRequest
	h := NewHandler(Services{Grants: grantStub{
		createFn: func(_ context.Context, tenantID string, req grant.CreateRequest) (*grant.CreateResult, error) {
			require.Equal(t, "t1", tenantID)
			got = req
			return &grant.CreateResult{
				Grant:   &grant.Grant{ID: "g9", ShareAmount: req.ShareAmount},
				HookErr: errors.New("broker down"),
			}, nil
		},
	}})

	res, err := h.Handle(context.Background(), "t1", "admin", "grant.create",
		json.RawMessage(`{"employee_id":"emp-9","grant_date":"2022-01-01","share_amount":"480.125"}`))
	require.NoError(t, err)
	resp := res.(*CreateGrantResponse)
	assert.Equal(t, "g9", resp.Grant.ID)
	assert.Equal(t, "broker down", resp.HookError)
	assert.Equal(t, "emp-9", got.EmployeeID)
	assert.Equal(t, "admin", got.ActorID)
	assert.Equal(t, "2022-01-01", got.GrantDate.String())
	assert.True(t, got.ShareAmount.Equal(decimal.RequireFromString("480.125")))
}

func TestHandleGrantTerminateConflict(t *testing.T) {
	h := NewHandler(Services{Grants: grantStub{
		terminateFn: func(_ context.Context, _ string, req grant.TerminateRequest) (*grant.Grant, error) {
			assert.Equal(t, int64(3), req.ExpectedVersion)
			return nil, grant.ErrConflict
		},
	}})

	_, err := h.Handle(context.Background(), "t1", "admin", "grant.terminate", json.RawMessage(`{"grant_id":"g1","expected_version":3}`))
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeConflict, apiErr.Code)
}

func TestHandleGrantListEmpty(t *testing.T) {
	h := NewHandler(Services{Grants: grantStub{
		listFn: func(context.Context, string) ([]grant.Grant, error) { return nil, nil },
	}})
	res, err := h.Handle(context.Background(), "t1", "admin", "grant.list", nil)
	require.NoError(t, err)
	assert.Equal(t, []grant.Grant{}, res)
}

func TestHandleTenantGet(t *testing.T) {
	h := NewHandler(Services{Tenants: tenantStub{
		getFn: func(_ context.Context, id string) (*tenant.Tenant, error) {
			if id != "t1" {
				return nil, tenant.ErrTenantNotFound
			}
			return &tenant.Tenant{ID: id, Timezone: "Pacific/Auckland"}, nil
		},
	}})
	res, err := h.Handle(context.Background(), "t1", "", "tenant.get", nil)
	require.NoError(t, err)
	assert.Equal(t, "Pacific/Auckland", res.(*tenant.Tenant).Timezone)

	_, err = h.Handle(context.Background(), "t2", "", "tenant.get", nil)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "TENANT_NOT_FOUND", apiErr.Kind)
}

func TestHandleRunDaily(t *testing.T) {
	h := NewHandler(Services{Batch: batchStub{summary: vesting.Summary{TenantsProcessed: 2, EventsCreated: 5}}})
	res, err := h.Handle(context.Background(), "t1", "", "batch.run_daily", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res.(*vesting.Summary).EventsCreated)

	h = NewHandler(Services{Batch: batchStub{summary: vesting.Summary{EventsCreated: 1}, err: context.Canceled}})
	res, err = h.Handle(context.Background(), "t1", "", "batch.run_daily", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.(*vesting.Summary).EventsCreated)

	h = NewHandler(Services{})
	_, err = h.Handle(context.Background(), "t1", "", "batch.run_daily", nil)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeMethodNotFound, apiErr.Code)
}

func TestHandlePrices(t *testing.T) {
	perShare := decimal.RequireFromString("2.75")
	h := NewHandler(Services{Prices: priceStub{
		recordFn: func(_ context.Context, tenantID string, date civil.Date, p decimal.Decimal, actorID string) (*price.Price, error) {
			assert.Equal(t, "admin", actorID)
			return &price.Price{TenantID: tenantID, EffectiveDate: date, PricePerShare: p}, nil
		},
		lookupFn: func(_ context.Context, _ string, date civil.Date) (*decimal.Decimal, error) {
			if date.Before(civil.MustParse("2024-01-01")) {
				return nil, nil
			}
			return &perShare, nil
		},
	}})
	ctx := context.Background()

	res, err := h.Handle(ctx, "t1", "admin", "price.record", json.RawMessage(`{"effective_date":"2024-01-01","price_per_share":"2.75"}`))
	require.NoError(t, err)
	assert.True(t, res.(*price.Price).PricePerShare.Equal(perShare))

	res, err = h.Handle(ctx, "t1", "admin", "price.get", json.RawMessage(`{"date":"2023-12-31"}`))
	require.NoError(t, err)
	assert.Nil(t, res.(PriceResponse).PricePerShare)

	res, err = h.Handle(ctx, "t1", "admin", "price.get", json.RawMessage(`{"date":"2024-06-01"}`))
	require.NoError(t, err)
	assert.True(t, res.(PriceResponse).PricePerShare.Equal(perShare))

	_, err = h.Handle(ctx, "t1", "admin", "price.get", json.RawMessage(`{}`))
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeInvalidParams, apiErr.Code)
}

func TestHandleAuditList(t *testing.T) {
	h := NewHandler(Services{Audit: auditStub{
		listFn: func(_ context.Context, _ string, opts audit.ListOptions) ([]audit.Entry, error) {
			require.NotNil(t, opts.Action)
			assert.Equal(t, audit.ActionVestingScheduled, *opts.Action)
			assert.Equal(t, "g1", opts.EntityID)
			assert.Equal(t, 10, opts.Limit)
			return nil, nil
		},
	}})
	res, err := h.Handle(context.Background(), "t1", "", "audit.list", json.RawMessage(`{"entity_id":"g1","action":"vesting.scheduled","limit":10}`))
	require.NoError(t, err)
	assert.Equal(t, []audit.Entry{}, res)
}

func TestHandleUnknownMethod(t *testing.T) {
	h := NewHandler(Services{})
	_, err := h.Handle(context.Background(), "t1", "", "grant.delete", nil)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeMethodNotFound, apiErr.Code)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		err  error
		code int
		kind string
	}{
		{vesting.ErrGrantNotFound, CodeNotFound, "GRANT_NOT_FOUND"},
		{grant.ErrTenantNotFound, CodeNotFound, "TENANT_NOT_FOUND"},
		{grant.ErrDuplicateGrant, CodeConflict, "DUPLICATE_GRANT"},
		{vesting.ErrReconcileExhausted, CodeConflict, "RECONCILE_EXHAUSTED"},
		{vesting.ErrExceedsGrant, CodeRuleViolation, "EXCEEDS_GRANT"},
		{vesting.ErrInvalidShares, CodeInvalidParams, "INVALID_SHARES"},
		{tenant.ErrInvalidTimezone, CodeInvalidParams, "INVALID_TIMEZONE"},
		{grant.ErrInvalidInput, CodeInvalidParams, "INVALID_INPUT"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			apiErr := MapError(errors.Join(errors.New("context"), tt.err))
			require.NotNil(t, apiErr)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.kind, apiErr.Kind)
		})
	}

	assert.Nil(t, MapError(nil))
	assert.Nil(t, MapError(errors.New("disk full")))
}
