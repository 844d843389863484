package tenant

import "time"

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Tenant is an organization whose grants are vested in its own timezone.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
