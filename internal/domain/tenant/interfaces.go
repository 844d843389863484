package tenant

import "context"

// Repository provides persistence for tenants.
type Repository interface {
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, id string) (*Tenant, error)
	ListActive(ctx context.Context) ([]Tenant, error)
}
