package vesting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/audit"
	"github.com/weeargh/kiwi/internal/domain/grant"
	"github.com/weeargh/kiwi/internal/repository"
)

// maxReconcileAttempts bounds the rewrite loop after a lost version check.
const maxReconcileAttempts = 5

// Processor computes due vesting events for a grant and commits them.
type Processor struct {
	store   Store
	prices  PriceLookup
	audit   AuditSink
	tenants TenantRegistry
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock overrides the wall clock used for "today" and timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithIDGenerator overrides event ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(p *Processor) { p.newID = fn }
}

// NewProcessor creates a processor. prices, auditSink and tenants may be nil;
// without a price lookup events carry no price snapshot, and without a tenant
// registry ProcessToday uses UTC.
func NewProcessor(store Store, prices PriceLookup, auditSink AuditSink, tenants TenantRegistry, logger *slog.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &Processor{
		store:   store,
		prices:  prices,
		audit:   auditSink,
		tenants: tenants,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessRequest identifies a grant and the date to vest it up to.
type ProcessRequest struct {
	TenantID string
	GrantID  string
	AsOf     civil.Date
	ActorID  string
}

// Process records every event due for the grant on or before AsOf that is not
// yet in the ledger, and returns the events this call inserted.
//
// Missing or inactive grants and dates before the cliff yield no events and no
// error. Concurrent calls for the same grant are safe: each date is recorded
// once and the grant's vested amount ends equal to its ledger total.
func (p *Processor) Process(ctx context.Context, req ProcessRequest) ([]Event, error) {
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.GrantID) == "" || !req.AsOf.Valid() {
		return nil, ErrInvalidRequest
	}

	g, err := p.store.GetGrant(ctx, req.TenantID, req.GrantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading grant: %w", err)
	}
	if !g.IsActive() {
		return nil, nil
	}

	schedule := BuildSchedule(g.GrantDate, g.ShareAmount)
	candidates := schedule.Candidates(req.AsOf)
	if len(candidates) == 0 {
		return nil, nil
	}

	recorded, err := p.store.ListVestDates(ctx, req.TenantID, req.GrantID)
	if err != nil {
		return nil, fmt.Errorf("listing vest dates: %w", err)
	}
	pending := withinHeadroom(pendingAgainst(candidates, recorded), g.Unvested())
	if len(pending) == 0 {
		return nil, nil
	}

	prices, err := p.snapshotPrices(ctx, req.TenantID, pending)
	if err != nil {
		return nil, err
	}

	var (
		inserted []Event
		before   *grant.Grant
		after    aggregate
	)
	err = p.store.WithGrantTx(ctx, req.TenantID, req.GrantID, func(tx Tx) error {
		inserted = nil

		current, err := tx.GetGrant(ctx)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("reloading grant: %w", err)
		}
		if !current.IsActive() {
			return nil
		}
		before = current

		dates, err := tx.ListVestDates(ctx)
		if err != nil {
			return fmt.Errorf("relisting vest dates: %w", err)
		}

		headroom := current.Unvested()
		sum := decimal.Zero
		for _, c := range pendingAgainst(pending, dates) {
			shares := c.Shares
			if remaining := headroom.Sub(sum); shares.GreaterThan(remaining) {
				shares = remaining
			}
			if !shares.IsPositive() {
				continue
			}

			ev := Event{
				ID:            p.newID(),
				GrantID:       current.ID,
				TenantID:      current.TenantID,
				VestDate:      c.Date,
				SharesVested:  shares,
				PricePerShare: prices[c.Date],
				Source:        SourceScheduled,
				CreatedAt:     p.now().UTC(),
			}
			res, err := tx.TryInsert(ctx, &ev)
			if err != nil {
				return fmt.Errorf("inserting event for %s: %w", c.Date, err)
			}
			if res == AlreadyExists {
				continue
			}
			inserted = append(inserted, ev)
			sum = sum.Add(shares)
		}

		if len(inserted) == 0 {
			return nil
		}

		after, err = p.commitAggregate(ctx, tx, current, sum)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("committing vesting events: %w", err)
	}

	if len(inserted) > 0 {
		p.logger.Info("vesting events committed",
			"tenant_id", req.TenantID,
			"grant_id", req.GrantID,
			"as_of", req.AsOf.String(),
			"events", len(inserted),
			"vested_amount", after.VestedAmount.String(),
			"reconciled", after.Reconciled,
		)
		p.record(ctx, audit.Entry{
			TenantID:   req.TenantID,
			ActorID:    req.ActorID,
			Action:     audit.ActionVestingScheduled,
			EntityType: audit.EntityGrant,
			EntityID:   req.GrantID,
			Before:     audit.State(aggregateOf(before)),
			After:      audit.State(after),
		})
	}

	return inserted, nil
}

// ProcessToday processes a grant as of today in the tenant's timezone.
func (p *Processor) ProcessToday(ctx context.Context, tenantID, grantID, actorID string) ([]Event, error) {
	asOf, err := p.today(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return p.Process(ctx, ProcessRequest{
		TenantID: tenantID,
		GrantID:  grantID,
		AsOf:     asOf,
		ActorID:  actorID,
	})
}

// GrantCreated vests a newly committed grant up to today, so a backdated grant
// receives its cliff and elapsed monthly events immediately.
func (p *Processor) GrantCreated(ctx context.Context, g *grant.Grant, actorID string) error {
	events, err := p.ProcessToday(ctx, g.TenantID, g.ID, actorID)
	if err != nil {
		return fmt.Errorf("vesting new grant: %w", err)
	}
	if len(events) > 0 {
		p.logger.Info("backdated grant vested on creation", "tenant_id", g.TenantID, "grant_id", g.ID, "events", len(events))
	}
	return nil
}

// Events returns a grant's ledger ordered by vest date.
func (p *Processor) Events(ctx context.Context, tenantID, grantID string) ([]Event, error) {
	if _, err := p.loadGrant(ctx, tenantID, grantID); err != nil {
		return nil, err
	}
	events, err := p.store.ListEvents(ctx, tenantID, grantID)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	return events, nil
}

// Schedule returns a grant and its derived schedule.
func (p *Processor) Schedule(ctx context.Context, tenantID, grantID string) (*grant.Grant, Schedule, error) {
	g, err := p.loadGrant(ctx, tenantID, grantID)
	if err != nil {
		return nil, Schedule{}, err
	}
	return g, BuildSchedule(g.GrantDate, g.ShareAmount), nil
}

// aggregate is the grant state written by a commit.
type aggregate struct {
	VestedAmount decimal.Decimal `json:"vested_amount"`
	Version      int64           `json:"version"`
	Reconciled   bool            `json:"reconciled,omitempty"`
}

func aggregateOf(g *grant.Grant) *aggregate {
	if g == nil {
		return nil
	}
	return &aggregate{VestedAmount: g.VestedAmount, Version: g.Version}
}

// commitAggregate adds delta to the vested amount under a version check. When
// another writer got there first the total is rederived from the ledger
// instead, so concurrent inserts are never double counted.
func (p *Processor) commitAggregate(ctx context.Context, tx Tx, current *grant.Grant, delta decimal.Decimal) (aggregate, error) {
	next := current.VestedAmount.Add(delta)
	ok, err := tx.CompareAndSwapVested(ctx, current.Version, next)
	if err != nil {
		return aggregate{}, fmt.Errorf("updating vested amount: %w", err)
	}
	if ok {
		return aggregate{VestedAmount: next, Version: current.Version + 1}, nil
	}

	p.logger.Debug("vested amount version conflict, reconciling from ledger",
		"tenant_id", current.TenantID, "grant_id", current.ID, "expected_version", current.Version)
	return p.reconcile(ctx, tx)
}

func (p *Processor) reconcile(ctx context.Context, tx Tx) (aggregate, error) {
	for attempt := 0; attempt < maxReconcileAttempts; attempt++ {
		latest, err := tx.GetGrant(ctx)
		if err != nil {
			return aggregate{}, fmt.Errorf("reloading grant for reconcile: %w", err)
		}
		total, err := tx.SumVested(ctx)
		if err != nil {
			return aggregate{}, fmt.Errorf("summing ledger: %w", err)
		}
		ok, err := tx.CompareAndSwapVested(ctx, latest.Version, total)
		if err != nil {
			return aggregate{}, fmt.Errorf("rewriting vested amount: %w", err)
		}
		if ok {
			return aggregate{VestedAmount: total, Version: latest.Version + 1, Reconciled: true}, nil
		}
	}
	return aggregate{}, ErrReconcileExhausted
}

// withinHeadroom keeps the leading tranches that still fit under headroom.
// Vested amounts only grow, so a tranche dropped here would also clamp to zero
// inside the transaction.
func withinHeadroom(pending []Tranche, headroom decimal.Decimal) []Tranche {
	remaining := headroom
	for i, t := range pending {
		if !remaining.IsPositive() {
			return pending[:i]
		}
		remaining = remaining.Sub(t.Shares)
	}
	return pending
}

func (p *Processor) snapshotPrices(ctx context.Context, tenantID string, pending []Tranche) (map[civil.Date]*decimal.Decimal, error) {
	out := make(map[civil.Date]*decimal.Decimal, len(pending))
	if p.prices == nil {
		return out, nil
	}
	for _, c := range pending {
		price, err := p.prices.PriceOnOrBefore(ctx, tenantID, c.Date)
		if err != nil {
			return nil, fmt.Errorf("looking up price for %s: %w", c.Date, err)
		}
		out[c.Date] = price
	}
	return out, nil
}

func (p *Processor) loadGrant(ctx context.Context, tenantID, grantID string) (*grant.Grant, error) {
	g, err := p.store.GetGrant(ctx, tenantID, grantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrGrantNotFound
		}
		return nil, fmt.Errorf("loading grant: %w", err)
	}
	return g, nil
}

func (p *Processor) today(ctx context.Context, tenantID string) (civil.Date, error) {
	if p.tenants == nil {
		return civil.Today(p.now(), time.UTC), nil
	}
	loc, err := p.tenants.Location(ctx, tenantID)
	if err != nil {
		return civil.Date{}, fmt.Errorf("resolving tenant timezone: %w", err)
	}
	return civil.Today(p.now(), loc), nil
}

func (p *Processor) record(ctx context.Context, entry audit.Entry) {
	if p.audit == nil {
		return
	}
	if err := p.audit.Record(ctx, entry); err != nil {
		p.logger.Warn("audit record failed", "tenant_id", entry.TenantID, "entity_id", entry.EntityID, "error", err)
	}
}
