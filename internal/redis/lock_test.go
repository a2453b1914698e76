package redisclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------- Local locker ----------

func TestLocalLocker_SerializesSameKey(t *testing.T) {
	locker := NewLocalLocker(time.Second, 5*time.Second)

	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), "provider-1:2024-01-15", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestLocalLocker_DifferentKeysDoNotBlock(t *testing.T) {
	locker := NewLocalLocker(time.Second, time.Second)

	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = locker.WithLock(context.Background(), "provider-1:2024-01-15", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	done := make(chan error, 1)
	go func() {
		done <- locker.WithLock(context.Background(), "provider-2:2024-01-15", func(ctx context.Context) error {
			return nil
		})
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("lock on a different key was blocked")
	}
	close(release)
}

func TestLocalLocker_WaitTimeout(t *testing.T) {
	locker := NewLocalLocker(time.Second, 20*time.Millisecond)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestLocalLocker_DetachesCallerCancellation(t *testing.T) {
	locker := NewLocalLocker(time.Second, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	err := locker.WithLock(ctx, "k", func(runCtx context.Context) error {
		cancel()
		return runCtx.Err()
	})
	assert.NoError(t, err)
}

func TestLocalLocker_PropagatesError(t *testing.T) {
	locker := NewLocalLocker(time.Second, time.Second)
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

// ---------- Redis locker ----------

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLocker_AcquireAndRelease(t *testing.T) {
	mr, client := newTestRedis(t)
	locker := NewRedisLocker(client, time.Second, 100*time.Millisecond)

	err := locker.WithLock(context.Background(), "provider-1:2024-01-15", func(ctx context.Context) error {
		assert.True(t, mr.Exists("lock:queue:provider-1:2024-01-15"))
		return nil
	})
	require.NoError(t, err)

	assert.False(t, mr.Exists("lock:queue:provider-1:2024-01-15"))
}

func TestRedisLocker_ContendedKey(t *testing.T) {
	mr, client := newTestRedis(t)
	require.NoError(t, mr.Set("lock:queue:k", "someone-else"))

	locker := NewRedisLocker(client, time.Second, 60*time.Millisecond)

	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
		t.Fatal("critical section must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	v, err := mr.Get("lock:queue:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestRedisLocker_AcquiresAfterRelease(t *testing.T) {
	mr, client := newTestRedis(t)
	require.NoError(t, mr.Set("lock:queue:k", "someone-else"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		mr.Del("lock:queue:k")
	}()

	locker := NewRedisLocker(client, time.Second, 2*time.Second)
	ran := false
	err := locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestNewRedisClient_FailsFastWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), addr, "", "", "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), addr)
}
