// Package lock provides the mutual exclusion used around idempotency check-then-insert.
package lock

import (
	"context"
	"errors"
)

// ErrLockNotAcquired is returned when a lock could not be taken before giving up.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func()

// Locker serializes work on a key across goroutines or processes.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}
