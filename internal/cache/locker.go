package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld means another process holds the lock right now.
var ErrLockHeld = errors.New("lock held by another process")

// Locker hands out short exclusive leases keyed by string.
type Locker interface {
	Obtain(ctx context.Context, key string) (release func(), err error)
}

type RedisLocker struct {
	rs  *redsync.Redsync
	ttl time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		rs:  redsync.New(goredis.NewPool(client)),
		ttl: ttl,
	}
}

// Obtain tries once. A lease already held maps to ErrLockHeld.
func (l *RedisLocker) Obtain(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex(
		"lock:"+key,
		redsync.WithExpiry(l.ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, ErrLockHeld
		}
		return nil, err
	}

	return func() {
		// ok is false when the lease already expired.
		if ok, err := mutex.UnlockContext(context.Background()); !ok || err != nil {
			slog.Warn("failed to release lock", "key", key, "error", err)
		}
	}, nil
}

// NopLocker always grants the lease. Used when Redis is not configured.
type NopLocker struct{}

func (NopLocker) Obtain(context.Context, string) (func(), error) {
	return func() {}, nil
}
