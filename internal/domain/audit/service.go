package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// ErrInvalidInput indicates an incomplete audit entry.
var ErrInvalidInput = errors.New("invalid audit entry")

// Repository provides persistence operations for audit entries.
type Repository interface {
	Log(ctx context.Context, entry *Entry) error
	List(ctx context.Context, tenantID string, opts ListOptions) ([]Entry, error)
}

// Service records and lists audit entries.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a new audit service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{repo: repo, logger: logger}
}

// Record persists an entry, stamping the current time if missing. Errors are
// logged and returned, but callers treat auditing as best effort.
func (s *Service) Record(ctx context.Context, entry Entry) error {
	if entry.TenantID == "" || entry.Action == "" || entry.EntityID == "" {
		return ErrInvalidInput
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := s.repo.Log(ctx, &entry); err != nil {
		s.logger.Warn("audit write failed", "tenant_id", entry.TenantID, "action", entry.Action, "entity_id", entry.EntityID, "error", err)
		return fmt.Errorf("recording audit entry: %w", err)
	}
	return nil
}

// List returns entries for a tenant, newest first.
func (s *Service) List(ctx context.Context, tenantID string, opts ListOptions) ([]Entry, error) {
	return s.repo.List(ctx, tenantID, opts)
}
