package tenant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/weeargh/kiwi/internal/repository"
)

// Service handles tenant registry operations.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a new tenant service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{repo: repo, logger: logger}
}

// CreateRequest defines tenant creation inputs.
type CreateRequest struct {
	ID       string
	Name     string
	Timezone string
}

// Create registers a new tenant.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Tenant, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, ErrInvalidInput
	}
	tz := strings.TrimSpace(req.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	if _, err := LoadLocation(tz); err != nil {
		return nil, err
	}

	id := req.ID
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}

	t := &Tenant{
		ID:        id,
		Name:      req.Name,
		Timezone:  tz,
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, t); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: tenant %s already exists", ErrInvalidInput, id)
		}
		return nil, fmt.Errorf("creating tenant: %w", err)
	}
	s.logger.Info("tenant created", "tenant_id", t.ID, "timezone", t.Timezone)

	return t, nil
}

// Get fetches a tenant by ID.
func (s *Service) Get(ctx context.Context, id string) (*Tenant, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("getting tenant: %w", err)
	}
	return t, nil
}

// ListActive returns all active tenants.
func (s *Service) ListActive(ctx context.Context) ([]Tenant, error) {
	tenants, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	return tenants, nil
}

// Location resolves the tenant's timezone.
func (s *Service) Location(ctx context.Context, id string) (*time.Location, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return LoadLocation(t.Timezone)
}

// LoadLocation loads an IANA timezone, mapping failures to ErrInvalidTimezone.
func LoadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return loc, nil
}
