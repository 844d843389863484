package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/weeargh/kiwi/internal/civil"
	"github.com/weeargh/kiwi/internal/domain/audit"
	"github.com/weeargh/kiwi/internal/domain/grant"
	"github.com/weeargh/kiwi/internal/domain/price"
	"github.com/weeargh/kiwi/internal/domain/tenant"
	"github.com/weeargh/kiwi/internal/repository"
)

// TenantRepository is a mock for tenant.Repository.
type TenantRepository struct {
	mock.Mock
}

func (m *TenantRepository) Create(ctx context.Context, t *tenant.Tenant) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *TenantRepository) Get(ctx context.Context, id string) (*tenant.Tenant, error) {
	args := m.Called(ctx, id)
	if t, ok := args.Get(0).(*tenant.Tenant); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *TenantRepository) ListActive(ctx context.Context) ([]tenant.Tenant, error) {
	args := m.Called(ctx)
	if list, ok := args.Get(0).([]tenant.Tenant); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// GrantRepository is a mock for grant.Repository.
type GrantRepository struct {
	mock.Mock
}

func (m *GrantRepository) Create(ctx context.Context, g *grant.Grant) error {
	args := m.Called(ctx, g)
	return args.Error(0)
}

func (m *GrantRepository) Get(ctx context.Context, tenantID, id string) (*grant.Grant, error) {
	args := m.Called(ctx, tenantID, id)
	if g, ok := args.Get(0).(*grant.Grant); ok {
		return g, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *GrantRepository) ListActive(ctx context.Context, tenantID string) ([]grant.Grant, error) {
	args := m.Called(ctx, tenantID)
	if list, ok := args.Get(0).([]grant.Grant); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *GrantRepository) UpdateStatus(ctx context.Context, tenantID, id string, status grant.Status, expectedVersion int64) error {
	args := m.Called(ctx, tenantID, id, status, expectedVersion)
	return args.Error(0)
}

// PriceRepository is a mock for price.Repository.
type PriceRepository struct {
	mock.Mock
}

func (m *PriceRepository) Upsert(ctx context.Context, p *price.Price) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *PriceRepository) OnOrBefore(ctx context.Context, tenantID string, date civil.Date) (*price.Price, error) {
	args := m.Called(ctx, tenantID, date)
	if p, ok := args.Get(0).(*price.Price); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

// AuditRepository is a mock for audit.Repository.
type AuditRepository struct {
	mock.Mock
}

func (m *AuditRepository) Log(ctx context.Context, entry *audit.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *AuditRepository) List(ctx context.Context, tenantID string, opts audit.ListOptions) ([]audit.Entry, error) {
	args := m.Called(ctx, tenantID, opts)
	if list, ok := args.Get(0).([]audit.Entry); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

// AuditSink is a mock for the audit sinks the domain services record to.
type AuditSink struct {
	mock.Mock
}

func (m *AuditSink) Record(ctx context.Context, entry audit.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// CreatedHook is a mock for grant.CreatedHook.
type CreatedHook struct {
	mock.Mock
}

func (m *CreatedHook) GrantCreated(ctx context.Context, g *grant.Grant, actorID string) error {
	args := m.Called(ctx, g, actorID)
	return args.Error(0)
}

// APIKeyRepository is a mock for repository.APIKeyRepository.
type APIKeyRepository struct {
	mock.Mock
}

func (m *APIKeyRepository) Create(ctx context.Context, key *repository.APIKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *APIKeyRepository) ResolveTenant(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}
