package lock

import "errors"

// Lock-related errors.
var (
	// ErrLockTimeout is returned when a lock cannot be acquired within the timeout period.
	ErrLockTimeout = errors.New("lock acquisition timeout")

	// ErrLockBusy is returned by TryWithLock when the key is already held.
	ErrLockBusy = errors.New("lock is held")
)
