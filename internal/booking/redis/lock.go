package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const createLockKey = "booking:create_lock"

// Locker serializes booking creation across processes with a redis SetNX
// lock. Id allocation reads the store snapshot, so two concurrent creates
// without the lock could mint the same booking id.
type Locker struct {
	Client *redis.Client
	// TTL bounds how long a crashed holder can block creation.
	TTL time.Duration
}

func NewLocker(client *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Locker{Client: client, TTL: ttl}
}

// Lock spins with a short backoff until the lock is acquired or ctx ends.
// The returned owner token must be passed back to Unlock.
func (l *Locker) Lock(ctx context.Context) (string, error) {
	owner := uuid.NewString()
	for {
		ok, err := l.Client.SetNX(ctx, createLockKey, owner, l.TTL).Result()
		if err != nil {
			return "", err
		}
		if ok {
			return owner, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Unlock releases the lock if this owner still holds it. Releasing an
// expired or stolen lock is a no-op.
func (l *Locker) Unlock(ctx context.Context, owner string) error {
	val, err := l.Client.Get(ctx, createLockKey).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val == owner {
		_, err := l.Client.Del(ctx, createLockKey).Result()
		return err
	}
	return nil
}
