package grant

import (
	"context"

	"github.com/weeargh/kiwi/internal/domain/audit"
)

// Repository provides persistence for grants.
type Repository interface {
	Create(ctx context.Context, g *Grant) error
	Get(ctx context.Context, tenantID, id string) (*Grant, error)
	// ListActive returns active grants ordered by grant date, oldest first.
	ListActive(ctx context.Context, tenantID string) ([]Grant, error)
	// UpdateStatus writes status if the stored version equals expectedVersion.
	UpdateStatus(ctx context.Context, tenantID, id string, status Status, expectedVersion int64) error
}

// CreatedHook runs after a grant has been committed.
type CreatedHook interface {
	GrantCreated(ctx context.Context, g *Grant, actorID string) error
}

// AuditSink records grant lifecycle changes.
type AuditSink interface {
	Record(ctx context.Context, entry audit.Entry) error
}
