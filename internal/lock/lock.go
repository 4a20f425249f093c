// Package lock provides the scan lock that keeps at most one scan running.
package lock

import (
	"context"
	"sync"
)

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker acquires the scan lock without waiting. ok is false when another
// holder has it.
type Locker interface {
	TryLock(ctx context.Context) (unlock Unlock, ok bool, err error)
}

// Local is a process-wide lock.
type Local struct {
	mu sync.Mutex
}

// NewLocal returns an unlocked Local.
func NewLocal() *Local {
	return &Local{}
}

// TryLock implements Locker.
func (l *Local) TryLock(context.Context) (Unlock, bool, error) {
	if !l.mu.TryLock() {
		return nil, false, nil
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, true, nil
}
