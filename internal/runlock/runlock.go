// Package runlock keeps two staging runs from writing the same workbook at once.
// Without a Redis URL the lock is a no-op and a single operator is assumed.
package runlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// ErrHeld is returned by Lock when another process holds the lock.
var ErrHeld = errors.New("another run is in progress")

// DefaultTTL bounds how long a crashed run can block the next one.
const DefaultTTL = 15 * time.Minute

// Locker guards a full run.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock(ctx context.Context) error
	Close() error
}

// Open returns a Redis lock for url, or a no-op lock when url is empty.
func Open(ctx context.Context, url, key string) (Locker, error) {
	if url == "" {
		return Nop{}, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrap(err, "ping redis")
	}
	return NewRedis(client, key, DefaultTTL), nil
}

// Redis is a single-key lock with an owner token, released only by its owner.
type Redis struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewRedis creates a lock on key. Each Redis value carries its own owner token.
func NewRedis(client *redis.Client, key string, ttl time.Duration) *Redis {
	return &Redis{client: client, key: key, token: uuid.NewString(), ttl: ttl}
}

// Lock acquires the lock or returns ErrHeld.
func (l *Redis) Lock(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return eris.Wrapf(err, "acquire %s", l.key)
	}
	if !ok {
		return ErrHeld
	}
	return nil
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Unlock releases the lock if this process still owns it.
func (l *Redis) Unlock(ctx context.Context) error {
	if err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return eris.Wrapf(err, "release %s", l.key)
	}
	return nil
}

// Close closes the Redis client.
func (l *Redis) Close() error {
	return l.client.Close()
}

// Nop always succeeds.
type Nop struct{}

func (Nop) Lock(context.Context) error   { return nil }
func (Nop) Unlock(context.Context) error { return nil }
func (Nop) Close() error                 { return nil }
