package vesting_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/audit"
	"github.com/weeargh/kiwi/internal/domain/grant"
	"github.com/weeargh/kiwi/internal/domain/tenant"
	"github.com/weeargh/kiwi/internal/domain/vesting"
	"github.com/weeargh/kiwi/internal/memory"
)

const testTenant = "tenant1"

func newGrant(id, grantDate, shares string) grant.Grant {
	return grant.Grant{
		ID:           id,
		TenantID:     testTenant,
		EmployeeID:   "emp-" + id,
		GrantDate:    civil.MustParse(grantDate),
		ShareAmount:  decimal.RequireFromString(shares),
		VestedAmount: decimal.Zero,
		Status:       grant.StatusActive,
		Version:      1,
	}
}

func ledgerSum(events []vesting.Event) decimal.Decimal {
	sum := decimal.Zero
	for _, ev := range events {
		sum = sum.Add(ev.SharesVested)
	}
	return sum
}

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (s *recordingSink) Record(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return s.err
}

func (s *recordingSink) Entries() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Entry(nil), s.entries...)
}

type priceTable struct {
	prices map[civil.Date]decimal.Decimal
	err    error
}

// PriceOnOrBefore scans back from date to the closest entry.
func (p *priceTable) PriceOnOrBefore(_ context.Context, _ string, date civil.Date) (*decimal.Decimal, error) {
	if p.err != nil {
		return nil, p.err
	}
	var (
		best  civil.Date
		found bool
	)
	for d := range p.prices {
		if !d.After(date) && (!found || d.After(best)) {
			best, found = d, true
		}
	}
	if !found {
		return nil, nil
	}
	v := p.prices[best]
	return &v, nil
}

type staticTenants struct {
	tenants []tenant.Tenant
	err     error
}

func (s *staticTenants) ListActive(context.Context) ([]tenant.Tenant, error) {
	return s.tenants, s.err
}

func (s *staticTenants) Location(_ context.Context, tenantID string) (*time.Location, error) {
	for _, t := range s.tenants {
		if t.ID == tenantID {
			return tenant.LoadLocation(t.Timezone)
		}
	}
	return nil, tenant.ErrTenantNotFound
}

// interferingStore runs interfere once, just before the first version check,
// to simulate a concurrent committer winning the race.
type interferingStore struct {
	*memory.Store
	once      sync.Once
	interfere func(ctx context.Context)
	failCAS   bool
}

func (s *interferingStore) WithGrantTx(ctx context.Context, tenantID, grantID string, fn func(tx vesting.Tx) error) error {
	return s.Store.WithGrantTx(ctx, tenantID, grantID, func(tx vesting.Tx) error {
		return fn(&interferingTx{Tx: tx, store: s})
	})
}

type interferingTx struct {
	vesting.Tx
	store *interferingStore
}

func (t *interferingTx) CompareAndSwapVested(ctx context.Context, expectedVersion int64, vested decimal.Decimal) (bool, error) {
	if t.store.failCAS {
		return false, nil
	}
	if t.store.interfere != nil {
		t.store.once.Do(func() { t.store.interfere(ctx) })
	}
	return t.Tx.CompareAndSwapVested(ctx, expectedVersion, vested)
}

// failingProcessor fails for selected grants and records call order.
type failingProcessor struct {
	inner vesting.GrantProcessor
	fail  map[string]error

	mu    sync.Mutex
	calls []string
}

func (p *failingProcessor) Process(ctx context.Context, req vesting.ProcessRequest) ([]vesting.Event, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req.GrantID)
	p.mu.Unlock()
	if err, ok := p.fail[req.GrantID]; ok {
		return nil, err
	}
	return p.inner.Process(ctx, req)
}

var errUpstream = errors.New("store unavailable")

// countingPrices counts lookups against an empty price history.
type countingPrices struct {
	mu    sync.Mutex
	calls int
}

func (c *countingPrices) PriceOnOrBefore(context.Context, string, civil.Date) (*decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil, nil
}

func (c *countingPrices) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// countingStore counts grant transactions opened against the wrapped store.
type countingStore struct {
	*memory.Store
	mu  sync.Mutex
	txs int
}

func (s *countingStore) WithGrantTx(ctx context.Context, tenantID, grantID string, fn func(tx vesting.Tx) error) error {
	s.mu.Lock()
	s.txs++
	s.mu.Unlock()
	return s.Store.WithGrantTx(ctx, tenantID, grantID, fn)
}

func (s *countingStore) Txs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txs
}
