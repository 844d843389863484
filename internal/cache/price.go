// Package cache holds in-process caches in front of slower lookups.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/shopspring/decimal"
	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/price"
)

// PriceSource is the price lookup and writer the cache decorates.
type PriceSource interface {
	PriceOnOrBefore(ctx context.Context, tenantID string, date civil.Date) (*decimal.Decimal, error)
	Record(ctx context.Context, tenantID string, date civil.Date, perShare decimal.Decimal, actorID string) (*price.Price, error)
}

// entry wraps a lookup so "no price" is cacheable too.
type entry struct {
	price *decimal.Decimal
}

// PriceCache memoizes on-or-before lookups per tenant and date. Recording a
// price drops every cached entry, since it can change any later lookup.
type PriceCache struct {
	c    *ristretto.Cache[string, entry]
	next PriceSource
	ttl  time.Duration

	// mu orders stores against invalidation. gen counts Records; a
	// lookup that started under an older gen is not stored.
	mu  sync.Mutex
	gen uint64
}

// NewPriceCache creates a cache holding up to maxItems lookups for ttl each.
func NewPriceCache(next PriceSource, maxItems int64, ttl time.Duration) (*PriceCache, error) {
	if maxItems <= 0 {
		maxItems = 10000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, entry]{
		NumCounters: maxItems * 10, // ~10x expected items
		MaxCost:     maxItems,
		BufferItems: 64,
		// Each entry costs 1 so MaxCost counts items.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating price cache: %w", err)
	}
	return &PriceCache{c: c, next: next, ttl: ttl}, nil
}

func key(tenantID string, date civil.Date) string {
	return tenantID + "|" + date.String()
}

// PriceOnOrBefore returns the cached lookup or loads and caches it.
func (p *PriceCache) PriceOnOrBefore(ctx context.Context, tenantID string, date civil.Date) (*decimal.Decimal, error) {
	k := key(tenantID, date)
	if e, ok := p.c.Get(k); ok {
		return e.price, nil
	}

	p.mu.Lock()
	gen := p.gen
	p.mu.Unlock()

	v, err := p.next.PriceOnOrBefore(ctx, tenantID, date)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen == gen {
		p.c.SetWithTTL(k, entry{price: v}, 1, p.ttl)
		p.c.Wait()
	}
	return v, nil
}

// Record writes through to the source and invalidates the cache.
func (p *PriceCache) Record(ctx context.Context, tenantID string, date civil.Date, perShare decimal.Decimal, actorID string) (*price.Price, error) {
	rec, err := p.next.Record(ctx, tenantID, date, perShare, actorID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.gen++
	p.c.Clear()
	p.mu.Unlock()
	return rec, nil
}

// Close releases the cache's background goroutines.
func (p *PriceCache) Close() {
	p.c.Close()
}
