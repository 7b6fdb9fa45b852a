// Package lock is a best-effort mutual exclusion primitive over Redis with
// time-bounded leases.  It is meant for "at most one worker runs this job
// now" and nothing stronger.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the lock only while it still carries the caller's
// token, so a lease that outlived its TTL cannot remove a successor's lock.
var unlockScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// ErrInvalidTTL is returned by Acquire for a non-positive TTL.
var ErrInvalidTTL = errors.New("lock: ttl must be positive")

// RedisLock hands out leases on named keys.
type RedisLock struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisLock returns a RedisLock whose keys are stored as "lock:<key>".
func NewRedisLock(rdb redis.UniversalClient) *RedisLock {
	return &RedisLock{rdb: rdb, prefix: "lock:"}
}

// Lease is a held lock.  The zero value is not usable.
type Lease struct {
	l     *RedisLock
	key   string
	token string
}

// Key returns the name the lease was acquired for.
func (ls *Lease) Key() string { return ls.key }

// Acquire tries once to take key for ttl.  ok is false when somebody else
// holds it; no waiting or retrying happens here.
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{l: l, key: key, token: token}, true, nil
}

// Release gives the lock back.  Releasing a lease that already expired, or
// was released before, is a no-op.
func (ls *Lease) Release(ctx context.Context) error {
	if ls == nil {
		return nil
	}
	if _, err := unlockScript.Run(ctx, ls.l.rdb, []string{ls.l.prefix + ls.key}, ls.token).Result(); err != nil {
		return fmt.Errorf("lock: release %s: %w", ls.key, err)
	}
	return nil
}
