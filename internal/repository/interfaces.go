package repository

import (
	"context"
	"time"
)

// APIKey is a hashed bearer credential bound to one tenant.
type APIKey struct {
	KeyHash     string
	TenantID    string
	Description string
	CreatedAt   time.Time
	LastUsed    *time.Time
}

// APIKeyRepository manages bearer key persistence
type APIKeyRepository interface {
	Create(ctx context.Context, key *APIKey) error
	// ResolveTenant returns the tenant for a raw token and stamps its last use.
	ResolveTenant(ctx context.Context, token string) (string, error)
}
