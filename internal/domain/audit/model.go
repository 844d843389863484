package audit

import (
	"encoding/json"
	"time"
)

// Action names the kind of change being audited.
type Action string

const (
	ActionGrantCreated     Action = "grant.created"
	ActionGrantTerminated  Action = "grant.terminated"
	ActionVestingScheduled Action = "vesting.scheduled"
	ActionVestingManual    Action = "vesting.manual"
	ActionPriceRecorded    Action = "price.recorded"
)

// EntityType names the kind of entity an entry refers to.
type EntityType string

const (
	EntityGrant EntityType = "grant"
	EntityPrice EntityType = "price"
)

// Entry is one audit log record.
type Entry struct {
	ID         int64           `json:"id"`
	TenantID   string          `json:"tenant_id"`
	ActorID    string          `json:"actor_id"`
	Action     Action          `json:"action"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ListOptions filters audit entries.
type ListOptions struct {
	EntityID string
	Action   *Action
	Limit    int
	Offset   int
}

// State marshals v for use as an entry's Before or After payload.
// Values that fail to marshal produce a nil payload.
func State(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
