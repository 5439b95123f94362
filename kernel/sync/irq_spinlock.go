package sync

var (
	interruptsEnabledFn = func() bool { return false }
	disableInterruptsFn = func() {}
	enableInterruptsFn  = func() {}
)

// SetInterruptControl registers the functions that IRQSafeSpinlock uses to
// query, mask and unmask hardware interrupts. Until this function is called
// the lock behaves like a plain Spinlock.
func SetInterruptControl(enabled func() bool, disable, enable func()) {
	interruptsEnabledFn = enabled
	disableInterruptsFn = disable
	enableInterruptsFn = enable
}

// IRQSafeSpinlock is a Spinlock that also masks interrupts on the local CPU
// while it is held. It guards state that interrupt handlers also touch, so
// a handler can never spin on a lock owned by the code it interrupted.
type IRQSafeSpinlock struct {
	lock Spinlock

	// restoreIRQ is set when interrupts were enabled at the time the lock
	// was acquired.
	restoreIRQ bool
}

// Acquire masks interrupts and blocks until the lock is held.
func (l *IRQSafeSpinlock) Acquire() {
	wasEnabled := interruptsEnabledFn()
	disableInterruptsFn()
	l.lock.Acquire()
	l.restoreIRQ = wasEnabled
}

// TryToAcquire masks interrupts and attempts to grab the lock. If the lock
// is busy, the interrupt state is restored and false is returned.
func (l *IRQSafeSpinlock) TryToAcquire() bool {
	wasEnabled := interruptsEnabledFn()
	disableInterruptsFn()
	if !l.lock.TryToAcquire() {
		if wasEnabled {
			enableInterruptsFn()
		}
		return false
	}

	l.restoreIRQ = wasEnabled
	return true
}

// Release drops the lock and unmasks interrupts if they were enabled when
// the lock was acquired.
func (l *IRQSafeSpinlock) Release() {
	restore := l.restoreIRQ
	l.restoreIRQ = false
	l.lock.Release()
	if restore {
		enableInterruptsFn()
	}
}
