package redisclient

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// localLocker serializes critical sections inside one process. It backs
// single-instance deployments and tests where Redis is not available.
type localLocker struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
	ttl     time.Duration
	wait    time.Duration
}

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// NewLocalLocker creates an in-process locker with one semaphore per key.
// Entries are dropped once no goroutine holds or waits on them.
func NewLocalLocker(ttl, wait time.Duration) Locker {
	return &localLocker{
		entries: make(map[string]*lockEntry),
		ttl:     ttl,
		wait:    wait,
	}
}

func (l *localLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	entry := l.ref(key)
	defer l.unref(key)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
	case <-timer.C:
		return ErrLockNotAcquired
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrLockNotAcquired, ctx.Err())
	}
	defer func() { <-entry.sem }()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.ttl)
	defer cancel()

	return fn(runCtx)
}

func (l *localLocker) ref(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *localLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[key]
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}
