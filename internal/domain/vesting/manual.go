package vesting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/audit"
	"github.com/weeargh/kiwi/internal/domain/grant"
	"github.com/weeargh/kiwi/internal/repository"
)

// ManualRequest describes an operator-entered vesting event.
type ManualRequest struct {
	TenantID string
	GrantID  string
	VestDate civil.Date
	Shares   decimal.Decimal
	ActorID  string
}

// RecordManual appends a manual event. Unlike scheduled vesting it is rejected,
// not absorbed, when the date already vested or the grant would be over-vested.
func (p *Processor) RecordManual(ctx context.Context, req ManualRequest) (*Event, error) {
	if strings.TrimSpace(req.TenantID) == "" || strings.TrimSpace(req.GrantID) == "" || !req.VestDate.Valid() {
		return nil, ErrInvalidRequest
	}
	if !req.Shares.IsPositive() || !grant.HasSharePrecision(req.Shares) {
		return nil, ErrInvalidShares
	}

	g, err := p.loadGrant(ctx, req.TenantID, req.GrantID)
	if err != nil {
		return nil, err
	}
	if !g.IsActive() {
		return nil, ErrGrantInactive
	}

	var price *decimal.Decimal
	if p.prices != nil {
		price, err = p.prices.PriceOnOrBefore(ctx, req.TenantID, req.VestDate)
		if err != nil {
			return nil, fmt.Errorf("looking up price for %s: %w", req.VestDate, err)
		}
	}

	var (
		ev     Event
		before *grant.Grant
		after  aggregate
	)
	err = p.store.WithGrantTx(ctx, req.TenantID, req.GrantID, func(tx Tx) error {
		current, err := tx.GetGrant(ctx)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrGrantNotFound
			}
			return fmt.Errorf("reloading grant: %w", err)
		}
		if !current.IsActive() {
			return ErrGrantInactive
		}
		if current.VestedAmount.Add(req.Shares).GreaterThan(current.ShareAmount) {
			return ErrExceedsGrant
		}
		before = current

		ev = Event{
			ID:            p.newID(),
			GrantID:       current.ID,
			TenantID:      current.TenantID,
			VestDate:      req.VestDate,
			SharesVested:  req.Shares,
			PricePerShare: price,
			Source:        SourceManual,
			CreatedAt:     p.now().UTC(),
		}
		res, err := tx.TryInsert(ctx, &ev)
		if err != nil {
			return fmt.Errorf("inserting manual event: %w", err)
		}
		if res == AlreadyExists {
			return ErrDuplicateVestDate
		}

		after, err = p.commitAggregate(ctx, tx, current, req.Shares)
		if err != nil {
			return err
		}
		// A concurrent writer may have vested more in the meantime.
		if after.VestedAmount.GreaterThan(current.ShareAmount) {
			return ErrExceedsGrant
		}
		return nil
	})
	if err != nil {
		if isRejection(err) {
			return nil, err
		}
		return nil, fmt.Errorf("committing manual event: %w", err)
	}

	p.logger.Info("manual vesting event recorded",
		"tenant_id", req.TenantID,
		"grant_id", req.GrantID,
		"vest_date", req.VestDate.String(),
		"shares", req.Shares.String(),
	)
	p.record(ctx, audit.Entry{
		TenantID:   req.TenantID,
		ActorID:    req.ActorID,
		Action:     audit.ActionVestingManual,
		EntityType: audit.EntityGrant,
		EntityID:   req.GrantID,
		Before:     audit.State(aggregateOf(before)),
		After:      audit.State(after),
	})

	return &ev, nil
}

func isRejection(err error) bool {
	return errors.Is(err, ErrExceedsGrant) ||
		errors.Is(err, ErrDuplicateVestDate) ||
		errors.Is(err, ErrGrantInactive) ||
		errors.Is(err, ErrGrantNotFound)
}
