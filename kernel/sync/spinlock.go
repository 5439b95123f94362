// Package sync provides the spinlock primitives used to guard kernel state
// that is shared between regular code paths and interrupt handlers.
package sync

import "sync/atomic"

// spinsBeforeYield is the number of failed acquisition attempts after which
// a waiter calls yieldFn.
const spinsBeforeYield = 64

var (
	// yieldFn is invoked by waiters while the lock is contended. Tests
	// substitute runtime.Gosched.
	yieldFn func()
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for spins := 1; !l.TryToAcquire(); spins++ {
		if spins%spinsBeforeYield == 0 && yieldFn != nil {
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
