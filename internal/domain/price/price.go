// Package price keeps per-tenant share price history.
package price

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/audit"
	"github.com/weeargh/kiwi/internal/repository"
)

// ErrInvalidInput indicates an invalid price entry.
var ErrInvalidInput = errors.New("invalid price input")

// Price is the share price effective from a date until the next entry.
type Price struct {
	TenantID      string          `json:"tenant_id"`
	EffectiveDate civil.Date      `json:"effective_date"`
	PricePerShare decimal.Decimal `json:"price_per_share"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Repository provides persistence for price history.
type Repository interface {
	// Upsert stores the price for (tenant, effective date), replacing any prior value.
	Upsert(ctx context.Context, p *Price) error
	// OnOrBefore returns the latest price effective on or before date.
	OnOrBefore(ctx context.Context, tenantID string, date civil.Date) (*Price, error)
}

// AuditSink records price changes.
type AuditSink interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service records and looks up prices.
type Service struct {
	repo   Repository
	audit  AuditSink
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new price service. auditSink may be nil.
func NewService(repo Repository, auditSink AuditSink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{repo: repo, audit: auditSink, logger: logger, now: time.Now}
}

// Record stores a price effective from date.
func (s *Service) Record(ctx context.Context, tenantID string, date civil.Date, perShare decimal.Decimal, actorID string) (*Price, error) {
	if tenantID == "" || !date.Valid() || !perShare.IsPositive() {
		return nil, ErrInvalidInput
	}
	p := &Price{
		TenantID:      tenantID,
		EffectiveDate: date,
		PricePerShare: perShare,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.repo.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("recording price: %w", err)
	}

	s.logger.Info("price recorded", "tenant_id", tenantID, "effective_date", date.String(), "price", perShare.String())
	if s.audit != nil {
		_ = s.audit.Record(ctx, audit.Entry{
			TenantID:   tenantID,
			ActorID:    actorID,
			Action:     audit.ActionPriceRecorded,
			EntityType: audit.EntityPrice,
			EntityID:   date.String(),
			After:      audit.State(p),
		})
	}
	return p, nil
}

// PriceOnOrBefore returns the most recent price effective on or before date,
// or nil when the tenant has no history that early.
func (s *Service) PriceOnOrBefore(ctx context.Context, tenantID string, date civil.Date) (*decimal.Decimal, error) {
	p, err := s.repo.OnOrBefore(ctx, tenantID, date)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up price: %w", err)
	}
	v := p.PricePerShare
	return &v, nil
}
