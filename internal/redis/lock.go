package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("queue lock not acquired")
)

// Locker serializes critical sections per key. The appointment service keys
// it by provider and day.
//
// fn runs on a context detached from the caller's cancellation and bounded by
// the lock TTL, so a mutation that has started is not abandoned halfway.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type redisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

// NewRedisLocker creates a locker backed by one Redis key per lock key.
// Acquisition is retried until wait elapses or the caller's context ends.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration) Locker {
	return &redisLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		poll:   25 * time.Millisecond,
	}
}

func (l *redisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	redisKey := fmt.Sprintf("lock:queue:%s", key)
	token := uuid.NewString()

	if err := l.acquire(ctx, redisKey, token); err != nil {
		return err
	}

	detached := context.WithoutCancel(ctx)
	defer func() {
		_ = l.release(detached, redisKey, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(detached, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisLocker) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire queue lock: %w", err)
		}
		if ok {
			return nil
		}

		if !time.Now().Before(deadline) {
			return ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
		case <-time.After(l.poll):
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release queue lock: %w", err)
	}
	return nil
}
