// Package queue hands newly created grants to a vesting worker over AMQP.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultQueue is the durable queue grant creations are published to.
const DefaultQueue = "grant.created"

// ErrInvalidMessage indicates a delivery that can never be processed.
var ErrInvalidMessage = errors.New("invalid grant.created message")

// GrantCreated is the message body published after a grant commits.
type GrantCreated struct {
	TenantID  string    `json:"tenant_id"`
	GrantID   string    `json:"grant_id"`
	ActorID   string    `json:"actor_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func decode(body []byte) (GrantCreated, error) {
	var msg GrantCreated
	if err := json.Unmarshal(body, &msg); err != nil {
		return GrantCreated{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.TenantID == "" || msg.GrantID == "" {
		return GrantCreated{}, fmt.Errorf("%w: tenant_id and grant_id are required", ErrInvalidMessage)
	}
	return msg, nil
}
