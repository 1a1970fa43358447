package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LockClient provides the advisory claim locks the Copy Worker's claim
// protocol uses to short-circuit the common case before attempting a
// Cassandra lightweight-transaction claim (spec.md §4.2/§4.6).
// Grounded on SharedCode/sop's redis.client (redis/locker.go), owned per
// Session rather than a package-level singleton (spec.md §9).
type LockClient struct {
	rdb *redis.Client
}

// LockKey identifies one lock attempt; IsOwner is set once the caller
// wins the lock, so Unlock only ever releases keys it actually holds.
type LockKey struct {
	Key     string
	LockID  string
	IsOwner bool
}

func newLockClient(addr string, db int) (*LockClient, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	return &LockClient{rdb: rdb}, nil
}

func (c *LockClient) Close() error {
	return c.rdb.Close()
}

// NewLockKeys formats a set of claim keys, each carrying a fresh random
// lock ID (following redis.client.CreateLockKeys).
func (c *LockClient) NewLockKeys(names ...string) []*LockKey {
	keys := make([]*LockKey, len(names))
	for i, n := range names {
		keys[i] = &LockKey{Key: "L" + n, LockID: uuid.NewString()}
	}
	return keys
}

// Lock attempts to acquire every key in keys for duration, returning
// false (with no keys held) if any is already held by someone else.
// Mirrors redis.client.Lock's get-then-set-then-verify sequence, which
// tolerates the race between two callers' first Get.
func (c *LockClient) Lock(ctx context.Context, duration time.Duration, keys ...*LockKey) (bool, error) {
	for _, lk := range keys {
		val, err := c.rdb.Get(ctx, lk.Key).Result()
		if err != nil {
			if err != redis.Nil {
				return false, fmt.Errorf("catalog: lock get %s: %w", lk.Key, err)
			}
			if err := c.rdb.Set(ctx, lk.Key, lk.LockID, duration).Err(); err != nil {
				return false, fmt.Errorf("catalog: lock set %s: %w", lk.Key, err)
			}
			got, err := c.rdb.Get(ctx, lk.Key).Result()
			if err != nil {
				return false, fmt.Errorf("catalog: lock verify %s: %w", lk.Key, err)
			}
			if got != lk.LockID {
				return false, nil
			}
			lk.IsOwner = true
			continue
		}
		if val != lk.LockID {
			return false, nil
		}
	}
	return true, nil
}

// Unlock releases every key the caller actually owns.
func (c *LockClient) Unlock(ctx context.Context, keys ...*LockKey) error {
	var lastErr error
	for _, lk := range keys {
		if !lk.IsOwner {
			continue
		}
		if err := c.rdb.Del(ctx, lk.Key).Err(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
