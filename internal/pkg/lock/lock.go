// Package lock provides per-key locking for operations that must not overlap,
// such as two paid attempts from the same player.
package lock

import (
	"context"
	"sync"
	"time"
)

// KeyLock hands out one exclusive slot per int64 key.
// The zero value is ready to use.
type KeyLock struct {
	slots sync.Map // map[int64]chan struct{}
}

// New creates a new KeyLock.
func New() *KeyLock {
	return &KeyLock{}
}

// slot returns the single-capacity channel guarding key.
func (l *KeyLock) slot(key int64) chan struct{} {
	if v, ok := l.slots.Load(key); ok {
		return v.(chan struct{})
	}
	v, _ := l.slots.LoadOrStore(key, make(chan struct{}, 1))
	return v.(chan struct{})
}

// Unlock releases key. Unlocking a key that is not held is a no-op.
func (l *KeyLock) Unlock(key int64) {
	select {
	case <-l.slot(key):
	default:
	}
}

// TryLock acquires key without blocking and reports whether it succeeded.
func (l *KeyLock) TryLock(key int64) bool {
	select {
	case l.slot(key) <- struct{}{}:
		return true
	default:
		return false
	}
}

// LockContext waits for key until ctx is done or timeout elapses.
func (l *KeyLock) LockContext(ctx context.Context, key int64, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.slot(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrLockTimeout
	}
}

// TryWithLock executes fn only if key is free, otherwise returns ErrLockBusy.
func (l *KeyLock) TryWithLock(key int64, fn func() error) error {
	if !l.TryLock(key) {
		return ErrLockBusy
	}
	defer l.Unlock(key)
	return fn()
}
