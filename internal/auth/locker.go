package auth

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Locker guards the refresh path of a TokenStore. A client uses one flavor
// for its whole lifetime.
type Locker interface {
	// Lock blocks until the lock is held or ctx is done.
	Lock(ctx context.Context) error
	Unlock()
}

// MutexLocker is the lock of the pool model. Waiting ignores ctx.
type MutexLocker struct {
	mu sync.Mutex
}

// NewMutexLocker creates a mutex-backed locker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{}
}

// Lock acquires the mutex.
func (l *MutexLocker) Lock(context.Context) error {
	l.mu.Lock()

	return nil
}

// Unlock releases the mutex.
func (l *MutexLocker) Unlock() {
	l.mu.Unlock()
}

// SemaphoreLocker is the lock of the cooperative model. A waiter whose ctx is
// cancelled gives up instead of holding up other tasks.
type SemaphoreLocker struct {
	sem *semaphore.Weighted
}

// NewSemaphoreLocker creates a single-slot semaphore locker.
func NewSemaphoreLocker() *SemaphoreLocker {
	return &SemaphoreLocker{sem: semaphore.NewWeighted(1)}
}

// Lock acquires the slot or returns ctx.Err().
func (l *SemaphoreLocker) Lock(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Unlock releases the slot.
func (l *SemaphoreLocker) Unlock() {
	l.sem.Release(1)
}
