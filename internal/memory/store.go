// Package memory provides an in-process grant store and vesting ledger.
//
// Each operation is atomic on its own but a transaction does not isolate its
// reads from concurrent writers, which is the weakest isolation the vesting
// processor must tolerate. The (grant, vest date) uniqueness check is enforced
// under the store lock.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/grant"
	"github.com/weeargh/kiwi/internal/domain/vesting"
	"github.com/weeargh/kiwi/internal/repository"
)

type eventKey struct {
	grantID string
	date    civil.Date
}

// Store is a thread-safe in-memory vesting.Store.
type Store struct {
	mu     sync.RWMutex
	grants map[string]grant.Grant
	events map[eventKey]vesting.Event
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		grants: make(map[string]grant.Grant),
		events: make(map[eventKey]vesting.Event),
	}
}

// PutGrant stores a copy of g, replacing any grant with the same ID.
func (s *Store) PutGrant(g grant.Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[g.ID] = g
}

// PutEvent stores ev directly, bypassing the uniqueness check and the grant
// aggregate. It seeds fixtures.
func (s *Store) PutEvent(ev vesting.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[eventKey{grantID: ev.GrantID, date: ev.VestDate}] = ev
}

// GetGrant returns a copy of the grant.
func (s *Store) GetGrant(_ context.Context, tenantID, grantID string) (*grant.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grantLocked(tenantID, grantID)
}

// ListActive returns a tenant's active grants, oldest grant date first.
func (s *Store) ListActive(_ context.Context, tenantID string) ([]grant.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []grant.Grant
	for _, g := range s.grants {
		if g.TenantID == tenantID && g.IsActive() {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].GrantDate.Compare(out[j].GrantDate); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListVestDates returns the dates recorded for a grant.
func (s *Store) ListVestDates(_ context.Context, tenantID, grantID string) ([]civil.Date, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.datesLocked(tenantID, grantID), nil
}

// ListEvents returns a grant's events ordered by vest date.
func (s *Store) ListEvents(_ context.Context, tenantID, grantID string) ([]vesting.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []vesting.Event
	for k, ev := range s.events {
		if k.grantID == grantID && ev.TenantID == tenantID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VestDate.Before(out[j].VestDate) })
	return out, nil
}

// WithGrantTx runs fn and removes the events it inserted if fn fails.
func (s *Store) WithGrantTx(ctx context.Context, tenantID, grantID string, fn func(tx vesting.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &storeTx{store: s, tenantID: tenantID, grantID: grantID}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) grantLocked(tenantID, grantID string) (*grant.Grant, error) {
	g, ok := s.grants[grantID]
	if !ok || g.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return &g, nil
}

func (s *Store) datesLocked(tenantID, grantID string) []civil.Date {
	var out []civil.Date
	for k, ev := range s.events {
		if k.grantID == grantID && ev.TenantID == tenantID {
			out = append(out, k.date)
		}
	}
	return out
}

type storeTx struct {
	store    *Store
	tenantID string
	grantID  string

	mu       sync.Mutex
	inserted []eventKey
	swapped  bool
}

func (t *storeTx) GetGrant(_ context.Context) (*grant.Grant, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.grantLocked(t.tenantID, t.grantID)
}

func (t *storeTx) ListVestDates(_ context.Context) ([]civil.Date, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.datesLocked(t.tenantID, t.grantID), nil
}

func (t *storeTx) TryInsert(_ context.Context, ev *vesting.Event) (vesting.InsertResult, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if _, err := t.store.grantLocked(t.tenantID, t.grantID); err != nil {
		return 0, repository.ErrForeignKeyViolation
	}
	key := eventKey{grantID: t.grantID, date: ev.VestDate}
	if _, exists := t.store.events[key]; exists {
		return vesting.AlreadyExists, nil
	}
	t.store.events[key] = *ev

	t.mu.Lock()
	t.inserted = append(t.inserted, key)
	t.mu.Unlock()
	return vesting.Inserted, nil
}

func (t *storeTx) SumVested(_ context.Context) (decimal.Decimal, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	sum := decimal.Zero
	for k, ev := range t.store.events {
		if k.grantID == t.grantID && ev.TenantID == t.tenantID {
			sum = sum.Add(ev.SharesVested)
		}
	}
	return sum, nil
}

func (t *storeTx) CompareAndSwapVested(_ context.Context, expectedVersion int64, vested decimal.Decimal) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	g, ok := t.store.grants[t.grantID]
	if !ok || g.TenantID != t.tenantID {
		return false, repository.ErrNotFound
	}
	if g.Version != expectedVersion {
		return false, nil
	}
	g.VestedAmount = vested
	g.Version++
	t.store.grants[t.grantID] = g

	t.mu.Lock()
	t.swapped = true
	t.mu.Unlock()
	return true, nil
}

func (t *storeTx) rollback() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, k := range t.inserted {
		delete(t.store.events, k)
	}
	if !t.swapped {
		return
	}
	// Rewrite the aggregate from what remains so it matches the ledger.
	g, ok := t.store.grants[t.grantID]
	if !ok {
		return
	}
	sum := decimal.Zero
	for k, ev := range t.store.events {
		if k.grantID == t.grantID {
			sum = sum.Add(ev.SharesVested)
		}
	}
	g.VestedAmount = sum
	g.Version++
	t.store.grants[t.grantID] = g
}
