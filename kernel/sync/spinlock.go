// Package sync provides synchronization primitive implementations for spinlocks
// and interrupt-disabling critical sections.
package sync

import "sync/atomic"

var (
	// yieldFn is invoked by Acquire while busy-waiting for a contended lock.
	// It defaults to a no-op; proc.Init replaces it with proc.Yield through
	// SetYieldFn. proc.Yield does not switch threads either, so a contended
	// Acquire keeps spinning until the holder releases the lock.
	yieldFn = func() {}
)

// SetYieldFn registers the function invoked by a spinning Acquire call. It is
// called by proc.Init once the scheduler is running; callers never need to
// invoke it directly.
func SetYieldFn(fn func()) {
	if fn != nil {
		yieldFn = fn
	}
}

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	archAcquireSpinlock(&l.state, 1)
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// archAcquireSpinlock is an arch-specific implementation for acquiring the lock.
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32)
