// Package lease provides a Redis-backed mutual exclusion lease.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease takes leases with SET NX PX.
type RedisLease struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLease creates a lease backed by client. prefix namespaces keys.
func NewRedisLease(client redis.UniversalClient, prefix string) *RedisLease {
	return &RedisLease{client: client, prefix: prefix}
}

// Acquire takes key for ttl. ok is false when another holder has it. The
// returned release is a no-op once the lease expired and someone else took it.
func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	full := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lease %s: %w", full, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{full}, token).Err(); err != nil {
			return fmt.Errorf("releasing lease %s: %w", full, err)
		}
		return nil
	}
	return release, true, nil
}
