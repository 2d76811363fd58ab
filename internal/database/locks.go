package database

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// KeyedMutex serializes work per key (group ID, or a fixed key for a shared store).
// Waiters give up after the configured timeout with ErrBusy.
type KeyedMutex struct {
	mu      sync.Mutex
	locks   map[string]*keyedLock
	timeout time.Duration
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex creates a keyed mutex. A zero timeout waits until ctx is done.
func NewKeyedMutex(timeout time.Duration) *KeyedMutex {
	return &KeyedMutex{
		locks:   make(map[string]*keyedLock),
		timeout: timeout,
	}
}

func (k *KeyedMutex) acquireRef(key string) *keyedLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *KeyedMutex) releaseRef(key string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock acquires the lock for key and returns its release function.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	l := k.acquireRef(key)

	var timeout <-chan time.Time
	if k.timeout > 0 {
		timer := time.NewTimer(k.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case l.sem <- struct{}{}:
	case <-timeout:
		k.releaseRef(key, l)
		return nil, fmt.Errorf("%w: lock %q not acquired within %s", ErrBusy, key, k.timeout)
	case <-ctx.Done():
		k.releaseRef(key, l)
		return nil, fmt.Errorf("%w: %w", ErrBusy, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			k.releaseRef(key, l)
		})
	}, nil
}

// Held returns the number of keys currently locked or awaited.
func (k *KeyedMutex) Held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
