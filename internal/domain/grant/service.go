package grant

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
	"github.com/weeargh/kiwi/internal/repository"
)

// Service handles grant issuance and termination.
type Service struct {
	repo   Repository
	audit  AuditSink
	hook   CreatedHook
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new grant service. audit and hook may be nil.
func NewService(repo Repository, auditSink AuditSink, hook CreatedHook, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		repo:   repo,
		audit:  auditSink,
		hook:   hook,
		logger: logger,
		now:    time.Now,
	}
}

// SetCreatedHook replaces the post-commit hook.
func (s *Service) SetCreatedHook(hook CreatedHook) {
	s.hook = hook
}

// CreateRequest defines grant creation inputs.
type CreateRequest struct {
	ID          string
	EmployeeID  string
	GrantDate   civil.Date
	ShareAmount decimal.Decimal
	ActorID     string
}

// CreateResult is the committed grant plus the outcome of the post-commit hook.
type CreateResult struct {
	Grant   *Grant
	HookErr error
}

// Create validates and persists a grant, then runs the created hook.
//
// A hook failure does not undo the grant; it is reported in the result and the
// nightly batch picks the grant up.
func (s *Service) Create(ctx context.Context, tenantID string, req CreateRequest) (*CreateResult, error) {
	if err := validateCreate(tenantID, req); err != nil {
		return nil, err
	}

	id := req.ID
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	now := s.now().UTC()

	g := &Grant{
		ID:           id,
		TenantID:     tenantID,
		EmployeeID:   strings.TrimSpace(req.EmployeeID),
		GrantDate:    req.GrantDate,
		ShareAmount:  req.ShareAmount,
		VestedAmount: decimal.Zero,
		Status:       StatusActive,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, g); err != nil {
		switch {
		case errors.Is(err, repository.ErrForeignKeyViolation):
			return nil, ErrTenantNotFound
		case errors.Is(err, repository.ErrDuplicate):
			return nil, ErrDuplicateGrant
		}
		return nil, fmt.Errorf("creating grant: %w", err)
	}

	s.record(ctx, audit.Entry{
		TenantID:   tenantID,
		ActorID:    req.ActorID,
		Action:     audit.ActionGrantCreated,
		EntityType: audit.EntityGrant,
		EntityID:   g.ID,
		After:      audit.State(g),
	})

	s.logger.Info("grant created", "tenant_id", tenantID, "grant_id", g.ID, "shares", g.ShareAmount.String())

	result := &CreateResult{Grant: g}
	if s.hook != nil {
		if err := s.hook.GrantCreated(ctx, g, req.ActorID); err != nil {
			s.logger.Warn("grant created hook failed", "tenant_id", tenantID, "grant_id", g.ID, "error", err)
			result.HookErr = err
		}
	}

	return result, nil
}

// Get fetches a grant by ID.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*Grant, error) {
	g, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrGrantNotFound
		}
		return nil, fmt.Errorf("getting grant: %w", err)
	}
	return g, nil
}

// ListActive returns a tenant's active grants, oldest grant date first.
func (s *Service) ListActive(ctx context.Context, tenantID string) ([]Grant, error) {
	grants, err := s.repo.ListActive(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	return grants, nil
}

// TerminateRequest defines grant termination inputs.
type TerminateRequest struct {
	GrantID string
	// ExpectedVersion, when non-zero, must match the stored version.
	ExpectedVersion int64
	ActorID         string
}

// Terminate marks a grant inactive so it stops vesting. Events already
// recorded are kept.
func (s *Service) Terminate(ctx context.Context, tenantID string, req TerminateRequest) (*Grant, error) {
	g, err := s.Get(ctx, tenantID, req.GrantID)
	if err != nil {
		return nil, err
	}
	if !g.IsActive() {
		return nil, ErrAlreadyInactive
	}
	if req.ExpectedVersion != 0 && req.ExpectedVersion != g.Version {
		return nil, ErrConflict
	}

	if err := s.repo.UpdateStatus(ctx, tenantID, g.ID, StatusInactive, g.Version); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrConflict
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrGrantNotFound
		}
		return nil, fmt.Errorf("terminating grant: %w", err)
	}

	before := *g
	g.Status = StatusInactive
	g.Version++
	g.UpdatedAt = s.now().UTC()

	s.record(ctx, audit.Entry{
		TenantID:   tenantID,
		ActorID:    req.ActorID,
		Action:     audit.ActionGrantTerminated,
		EntityType: audit.EntityGrant,
		EntityID:   g.ID,
		Before:     audit.State(before),
		After:      audit.State(g),
	})

	return g, nil
}

func (s *Service) record(ctx context.Context, entry audit.Entry) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, entry)
	}
}

func validateCreate(tenantID string, req CreateRequest) error {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(req.EmployeeID) == "" {
		return ErrInvalidInput
	}
	if !req.GrantDate.Valid() {
		return fmt.Errorf("%w: grant date is required", ErrInvalidInput)
	}
	if !req.ShareAmount.IsPositive() {
		return fmt.Errorf("%w: share amount must be positive", ErrInvalidInput)
	}
	if !HasSharePrecision(req.ShareAmount) {
		return fmt.Errorf("%w: share amount allows at most %d decimal places", ErrInvalidInput, SharePrecision)
	}
	return nil
}
