package vesting_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/audit"
	"github.com/weeargh/kiwi/internal/domain/grant"
	"github.com/weeargh/kiwi/internal/domain/tenant"
	"github.com/weeargh/kiwi/internal/domain/vesting"
	"github.com/weeargh/kiwi/internal/memory"
)

func process(t *testing.T, p *vesting.Processor, grantID, asOf string) []vesting.Event {
	t.Helper()
	events, err := p.Process(context.Background(), vesting.ProcessRequest{
		TenantID: testTenant,
		GrantID:  grantID,
		AsOf:     civil.MustParse(asOf),
		ActorID:  "user-1",
	})
	require.NoError(t, err)
	return events
}

func requireConsistent(t *testing.T, store vesting.Store, grantID string) *grant.Grant {
	t.Helper()
	ctx := context.Background()
	g, err := store.GetGrant(ctx, testTenant, grantID)
	require.NoError(t, err)
	events, err := store.ListEvents(ctx, testTenant, grantID)
	require.NoError(t, err)
	require.True(t, g.VestedAmount.Equal(ledgerSum(events)), "vested %s != ledger %s", g.VestedAmount, ledgerSum(events))
	require.False(t, g.VestedAmount.GreaterThan(g.ShareAmount))
	return g
}

func TestProcess_CliffBoundary(t *testing.T) {
	store := memory.NewStore()
	store.PutGrant(newGrant("g1", "2023-01-15", "4800"))
	p := vesting.NewProcessor(store, nil, nil, nil, nil)

	require.Empty(t, process(t, p, "g1", "2024-01-14"))

	events := process(t, p, "g1", "2024-01-15")
	require.Len(t, events, 1)
	require.Equal(t, "2024-01-15", events[0].VestDate.String())
	require.True(t, events[0].SharesVested.Equal(decimal.NewFromInt(1200)))
	require.Equal(t, vesting.SourceScheduled, events[0].Source)

	g := requireConsistent(t, store, "g1")
	require.True(t, g.VestedAmount.Equal(decimal.NewFromInt(1200)))
	require.Equal(t, int64(2), g.Version)
}

func TestProcess_BackdatedGrant(t *testing.T) {
	store := memory.NewStore()
	store.PutGrant(newGrant("g1", "2022-01-10", "1000"))
	p := vesting.NewProcessor(store, nil, nil, nil, nil)

	// Twenty-five calendar months after the grant month, one day short of
	// the 25th monthly date.
	events := process(t, p, "g1", "2024-02-09")
	require.Len(t, events, 13)
	require.Equal(t, "2023-01-10", events[0].VestDate.String())
	require.Equal(t, "2024-01-10", events[12].VestDate.String())

	// The cliff lump carries 12 tranches and each monthly event one, all 20.833.
	want := decimal.RequireFromString("20.833").Mul(decimal.NewFromInt(24))
	g := requireConsistent(t, store, "g1")
	require.True(t, g.VestedAmount.Equal(want), "got %s want %s", g.VestedAmount, want)
}

func TestProcess_Idempotent(t *testing.T) {
	store := memory.NewStore()
	store.PutGrant(newGrant("g1", "2022-06-30", "12345.678"))
	p := vesting.NewProcessor(store, nil, nil, nil, nil)

	first := process(t, p, "g1", "2024-03-31")
	require.NotEmpty(t, first)
	after := requireConsistent(t, store, "g1")

	second := process(t, p, "g1", "2024-03-31")
	require.Empty(t, second)
	again := requireConsistent(t, store, "g1")
	require.Equal(t, after.Version, again.Version)
	require.True(t, after.VestedAmount.Equal(again.VestedAmount))
}

func TestProcess_FullyVestedSumsToTotal(t *testing.T) {
	for _, total := range []string{"1000", "12345.678", "0.12", "7", "999999.999"} {
		store := memory.NewStore()
		store.PutGrant(newGrant("g1", "2020-01-31", total))
		p := vesting.NewProcessor(store, nil, nil, nil, nil)

		events := process(t, p, "g1", "2030-01-01")
		require.Len(t, events, vesting.Months-vesting.CliffIndex)
		g := requireConsistent(t, store, "g1")
		require.True(t, g.VestedAmount.Equal(g.ShareAmount), "total %s vested %s", total, g.VestedAmount)
	}
}

func TestProcess_TinyGrantNeverOverVests(t *testing.T) {
	// 0.03 / 48 rounds up to 0.001, so the last tranche would be negative.
	store := memory.NewStore()
	store.PutGrant(newGrant("g1", "2020-01-01", "0.03"))
	p := vesting.NewProcessor(store, nil, nil, nil, nil)

	events := process(t, p, "g1", "2030-01-01")
	require.Len(t, events, 19)
	for _, ev := range events {
		require.True(t, ev.SharesVested.IsPositive())
	}
	g := requireConsistent(t, store, "g1")
	require.True(t, g.VestedAmount.Equal(decimal.RequireFromString("0.03")))
}

func TestProcess_NotEligible(t *testing.T) {
	store := memory.NewStore()
	inactive := newGrant("g2", "2020-01-01", "100")
	inactive.Status = grant.StatusInactive
	store.PutGrant(inactive)
	p := vesting.NewProcessor(store, nil, nil, nil, nil)

	require.Empty(t, process(t, p, "missing", "2024-01-01"))
	require.Empty(t, process(t, p, "g2", "2024-01-01"))

	events, err := store.ListEvents(context.Background(), testTenant, "g2")
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestProcess_InvalidRequest(t *testing.T) {
	p := vesting.NewProcessor(memory.NewStore(), nil, nil, nil, nil)
	_, err := p.Process(context.Background(), vesting.ProcessRequest{TenantID: testTenant, GrantID: "g1"})
	require.ErrorIs(t, err, vesting.ErrInvalidRequest)
}

func TestProcess_PriceSnapshots(t *testing.T) {
	store := memory.NewStore()
	store.PutGrant(newGrant("g1", "2023-01-15", "4800"))
	prices := &priceTable{prices: map[civil.Date]decimal.Decimal{
		civil.MustParse("2024-02-01"): decimal.RequireFromString("1.25"),
	}}
	p := vesting.NewProcessor(store, prices, nil, nil, nil)

	events := process(t, p, "g1", "2024-03-15")
	require.Len(t, events, 3)
	require.Nil(t, events[0].PricePerShare, "no price effective before the cliff")
	require.NotNil(t, events[1].PricePerShare)
	require.Equal(t, "1.25", events[1].PricePerShare.String())
	require.Equal(t, "1.25", events[2].PricePerShare.String())
}

func TestProcess_PriceLookupFailureSurfaces(t *testing.T) {
	store := memory.NewStore()
	store.PutGrant(newGrant("g1", "2023-01-15", "4800"))
	p := vesting.NewProcessor(store, &priceTable{err: errUpstream}, nil, nil, nil)

	_, err := p.Process(context.Background(), vesting.ProcessRequest{
		TenantID: testTenant, GrantID: "g1", AsOf: civil.MustParse("2024-06-01"),
	})
	require.ErrorIs(t, err, errUpstream)
	requireConsistent(t, store, "g1")
}

func TestProcess_AuditFailureKeepsCommit(t *testing.T) {
	store := memory.NewStore()
	store.PutGrant(newGrant("g1", "2023-01-15", "4800"))
	sink := &recordingSink{err: errors.New("audit down")}
	p := vesting.NewProcessor(store, nil, sink, nil, nil)

	events := process(t, p, "g1", "2024-01-15")
	require.Len(t, events, 1)

	entries := sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionVestingScheduled, entries[0].Action)
	assert.Equal(t, "user-1", entries[0].ActorID)
	assert.Equal(t, "g1", entries[0].EntityID)
	assert.JSONEq(t, `{"vested_amount":"0","version":1}`, string(entries[0].Before))
	assert.JSONEq(t, `{"vested_amount":"1200","version":2}`, string(entries[0].After))

	g := requireConsistent(t, store, "g1")
	require.True(t, g.VestedAmount.Equal(decimal.NewFromInt(1200)))
}

func TestProcess_ConcurrentCallsVestOnce(t *testing.T) {
	const callers = 5

	reference := memory.NewStore()
	reference.PutGrant(newGrant("g1", "2021-03-31", "9999.999"))
	process(t, vesting.NewProcessor(reference, nil, nil, nil, nil), "g1", "2024-05-01")
	want := requireConsistent(t, reference, "g1").VestedAmount

	store := memory.NewStore()
	store.PutGrant(newGrant("g1", "2021-03-31", "9999.999"))
	p := vesting.NewProcessor(store, nil, nil, nil, nil)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
		errs  []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			events, err := p.Process(context.Background(), vesting.ProcessRequest{
				TenantID: testTenant, GrantID: "g1", AsOf: civil.MustParse("2024-05-01"),
			})
			mu.Lock()
			defer mu.Unlock()
			total += len(events)
			if err != nil {
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	events, err := store.ListEvents(context.Background(), testTenant, "g1")
	require.NoError(t, err)
	require.Equal(t, len(events), total, "each event returned by exactly one caller")

	seen := map[civil.Date]bool{}
	for _, ev := range events {
		require.False(t, seen[ev.VestDate], "duplicate vest date %s", ev.VestDate)
		seen[ev.VestDate] = true
	}
	g := requireConsistent(t, store, "g1")
	require.True(t, g.VestedAmount.Equal(want), "got %s want %s", g.VestedAmount, want)
}

func TestProcess_ReconcilesAfterLostVersionCheck(t *testing.T) {
	base := memory.NewStore()
	base.PutGrant(newGrant("g1", "2023-01-15", "4800"))

	store := &interferingStore{Store: base}
	store.interfere = func(ctx context.Context) {
		// Another committer records a disjoint manual event and bumps the version.
		err := base.WithGrantTx(ctx, testTenant, "g1", func(tx vesting.Tx) error {
			g, err := tx.GetGrant(ctx)
			if err != nil {
				return err
			}
			shares := decimal.RequireFromString("10.5")
			if _, err := tx.TryInsert(ctx, &vesting.Event{
				ID: "manual-1", GrantID: "g1", TenantID: testTenant,
				VestDate: civil.MustParse("2023-06-01"), SharesVested: shares,
				Source: vesting.SourceManual, CreatedAt: time.Now(),
			}); err != nil {
				return err
			}
			_, err = tx.CompareAndSwapVested(ctx, g.Version, g.VestedAmount.Add(shares))
			return err
		})
		require.NoError(t, err)
	}
	sink := &recordingSink{}
	p := vesting.NewProcessor(store, nil, sink, nil, nil)

	events := process(t, p, "g1", "2024-01-15")
	require.Len(t, events, 1, "only this call's event is returned")

	g := requireConsistent(t, base, "g1")
	require.True(t, g.VestedAmount.Equal(decimal.RequireFromString("1210.5")))
	require.Equal(t, int64(3), g.Version)
	require.Contains(t, string(sink.Entries()[0].After), `"reconciled":true`)
}

func TestProcess_ReconcileExhaustedRollsBack(t *testing.T) {
	base := memory.NewStore()
	base.PutGrant(newGrant("g1", "2023-01-15", "4800"))
	store := &interferingStore{Store: base, failCAS: true}
	p := vesting.NewProcessor(store, nil, nil, nil, nil)

	_, err := p.Process(context.Background(), vesting.ProcessRequest{
		TenantID: testTenant, GrantID: "g1", AsOf: civil.MustParse("2024-01-15"),
	})
	require.ErrorIs(t, err, vesting.ErrReconcileExhausted)

	events, err := base.ListEvents(context.Background(), testTenant, "g1")
	require.NoError(t, err)
	require.Empty(t, events)
	requireConsistent(t, base, "g1")
}

func TestProcessToday_UsesTenantTimezone(t *testing.T) {
	store := memory.NewStore()
	store.PutGrant(newGrant("g1", "2023-01-15", "4800"))
	tenants := &staticTenants{tenants: []tenant.Tenant{{ID: testTenant, Timezone: "America/Los_Angeles"}}}

	// 2024-01-15 05:00 UTC is still 2024-01-14 in Los Angeles.
	instant := time.Date(2024, time.January, 15, 5, 0, 0, 0, time.UTC)
	p := vesting.NewProcessor(store, nil, nil, tenants, nil, vesting.WithClock(func() time.Time { return instant }))

	events, err := p.ProcessToday(context.Background(), testTenant, "g1", "user-1")
	require.NoError(t, err)
	require.Empty(t, events)

	instant = instant.Add(4 * time.Hour)
	events, err = p.ProcessToday(context.Background(), testTenant, "g1", "user-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestGrantCreated_VestsBackdatedGrant(t *testing.T) {
	store := memory.NewStore()
	g := newGrant("g1", "2022-01-10", "1000")
	store.PutGrant(g)
	instant := time.Date(2024, time.February, 9, 12, 0, 0, 0, time.UTC)
	p := vesting.NewProcessor(store, nil, nil, nil, nil, vesting.WithClock(func() time.Time { return instant }))

	require.NoError(t, p.GrantCreated(context.Background(), &g, "user-1"))
	events, err := store.ListEvents(context.Background(), testTenant, "g1")
	require.NoError(t, err)
	require.Len(t, events, 13)
}

func TestEventsAndSchedule(t *testing.T) {
	store := memory.NewStore()
	store.PutGrant(newGrant("g1", "2023-01-15", "4800"))
	p := vesting.NewProcessor(store, nil, nil, nil, nil)
	process(t, p, "g1", "2024-03-15")

	events, err := p.Events(context.Background(), testTenant, "g1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.True(t, events[0].VestDate.Before(events[1].VestDate))

	g, sched, err := p.Schedule(context.Background(), testTenant, "g1")
	require.NoError(t, err)
	require.Equal(t, "g1", g.ID)
	require.Equal(t, "2027-01-15", sched.Tranches[47].Date.String())

	_, err = p.Events(context.Background(), testTenant, "missing")
	require.ErrorIs(t, err, vesting.ErrGrantNotFound)
}
