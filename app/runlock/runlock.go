// Package runlock guarantees that at most one run writes a given history
// store at a time.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another process owns the lock.
var ErrHeld = errors.New("run lock is held by another process")

// releaseScript deletes the key only if it still carries our token, so an
// expired lock taken over by another run is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	redis *redis.Client
	key   string
	ttl   time.Duration
}

func New(redisURL, key string, ttl time.Duration) (*Locker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Locker{redis: client, key: key, ttl: ttl}, nil
}

func (l *Locker) Close() error { return l.redis.Close() }

// Lease is a held lock.
type Lease struct {
	locker *Locker
	token  string
}

// Acquire takes the lock or returns ErrHeld.
func (l *Locker) Acquire(ctx context.Context) (*Lease, error) {
	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{locker: l, token: token}, nil
}

// Release drops the lock if this lease still owns it.
func (le *Lease) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, le.locker.redis, []string{le.locker.key}, le.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}
