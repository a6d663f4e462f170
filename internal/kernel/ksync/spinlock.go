// Package ksync provides the kernel's synchronization primitives (spec C9):
// a spinlock with scoped, interrupt-safe release and a counting semaphore
// with a FIFO waiter queue of task ids.
package ksync

import "sync/atomic"

// InterruptController toggles the CPU interrupt-enable flag. The kernel's
// irq package satisfies this; tests supply a fake.
type InterruptController interface {
	Enabled() bool
	Disable()
	Enable()
}

// Spinlock is a single atomic test-and-set word. Acquire disables
// interrupts; the matching scoped Release only re-enables them if they
// were enabled at acquire time, so nested acquisitions under an already
// interrupt-disabled caller do not prematurely turn interrupts back on.
type Spinlock struct {
	state uint32
	irq   InterruptController
}

// NewSpinlock binds a lock to the interrupt controller it must gate.
func NewSpinlock(irq InterruptController) *Spinlock {
	return &Spinlock{irq: irq}
}

// Guard is the scoped token returned by Acquire; its Release is safe to
// defer and is idempotent beyond the first call.
type Guard struct {
	lock           *Spinlock
	reenableOnDrop bool
	released       bool
}

// Acquire busy-waits until the lock is free, disabling interrupts first.
// Release the returned Guard on every exit path (normal return, panic,
// task exit) to guarantee the lock and interrupt state are restored.
func (l *Spinlock) Acquire() *Guard {
	wasEnabled := l.irq != nil && l.irq.Enabled()
	if l.irq != nil {
		l.irq.Disable()
	}
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		// busy-wait: interrupts are already off, so no preemption can
		// intervene to release the lock from this CPU; another "CPU"
		// in the hosted simulation (a goroutine standing in for an
		// IRQ handler) may still clear it concurrently.
	}
	return &Guard{lock: l, reenableOnDrop: wasEnabled}
}

// TryAcquire attempts a non-blocking acquire, returning nil if the lock is
// currently held.
func (l *Spinlock) TryAcquire() *Guard {
	wasEnabled := l.irq != nil && l.irq.Enabled()
	if l.irq != nil {
		l.irq.Disable()
	}
	if !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		if wasEnabled && l.irq != nil {
			l.irq.Enable()
		}
		return nil
	}
	return &Guard{lock: l, reenableOnDrop: wasEnabled}
}

// Release drops the lock and restores interrupts to their pre-acquire
// state. Safe to call more than once.
func (g *Guard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	atomic.StoreUint32(&g.lock.state, 0)
	if g.reenableOnDrop && g.lock.irq != nil {
		g.lock.irq.Enable()
	}
}
