package livestatus

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Only the owner may extend or drop a lease.
var (
	renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Lease hands out sess:<id>:owner so that only one worker process runs a
// session's camera at a time.
type Lease struct {
	client *redis.Client
}

// NewLease creates a lease store.
func NewLease(client *redis.Client) *Lease {
	return &Lease{client: client}
}

// Acquire takes the session for owner unless someone else holds it.
func (l *Lease) Acquire(ctx context.Context, sessionID int64, owner string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key(sessionID, "owner"), owner, ttl).Result()
}

// Renew extends owner's lease. False means the lease expired or was taken.
func (l *Lease) Renew(ctx context.Context, sessionID int64, owner string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, l.client, []string{key(sessionID, "owner")}, owner, ttl.Milliseconds()).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return n == 1, err
}

// Release drops owner's lease. Releasing a lease held by someone else is a no-op.
func (l *Lease) Release(ctx context.Context, sessionID int64, owner string) error {
	err := releaseScript.Run(ctx, l.client, []string{key(sessionID, "owner")}, owner).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// Owner returns who holds the session, or "" when nobody does.
func (l *Lease) Owner(ctx context.Context, sessionID int64) (string, error) {
	v, err := l.client.Get(ctx, key(sessionID, "owner")).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}
