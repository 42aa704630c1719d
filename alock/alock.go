// Package alock implements an array-based lock, providing fair mutual exclusion for a fixed number
// of concurrent callers. The ArrayLock type uses an array of flags to coordinate lock acquisition,
// ensuring FIFO ordering by handing out slots from a circular queue.
//
// The array-based lock provides several benefits:
//   - Fair scheduling with FIFO ordering of lock acquisition
//   - Bounded memory usage based on the number of callers
//   - Each waiter spins on its own dedicated flag, reducing contention
//
// Example usage:
//
//	lock := alock.NewArrayLock(trilock.NumIdentities)
//	a, b, c := trilock.New(0, trilock.WithLocker(lock))
//
//	// Or on its own
//	lock.Lock()
//	// ... critical section ...
//	lock.Unlock()
//
//	if lock.TryLock() {
//	    // ... critical section ...
//	    lock.Unlock()
//	}
//
// The size must be at least the number of callers that can be inside Lock, TryLock or the
// critical section at the same time. With more, two callers end up sharing a slot and both
// may hold the lock. A trilock never has more than three: each handle has at most one
// acquisition in flight and touches its state lock only for the length of one call.
package alock

import (
	"runtime"

	"go.uber.org/atomic"
)

// ArrayLock is a queue lock with one flag per slot. The flag of the slot currently allowed to
// hold the lock is 1, every other flag is 0. An ArrayLock is shared by all its callers and
// implements sync.Locker.
type ArrayLock struct {
	flags  []atomic.Uint32
	tail   atomic.Uint32 // next slot to hand out, always < size
	size   uint32
	holder uint32 // slot of the current holder; only written by the holder
}

// NewArrayLock creates a new unlocked array lock with room for size concurrent callers.
func NewArrayLock(size uint32) *ArrayLock {
	if size == 0 {
		panic("alock: size must be positive")
	}
	l := &ArrayLock{
		flags: make([]atomic.Uint32, size),
		size:  size,
	}
	l.flags[0].Store(1) // slot 0 goes first

	return l
}

// Lock takes the next slot and spins until the previous holder passes the lock to it.
func (l *ArrayLock) Lock() {
	slot := l.claim()

	for l.flags[slot].Load() == 0 {
		runtime.Gosched()
	}
	l.holder = slot
}

// claim advances tail by one slot, wrapping at size, and returns the slot it took.
func (l *ArrayLock) claim() uint32 {
	for {
		t := l.tail.Load()
		if l.tail.CompareAndSwap(t, l.next(t)) {
			return t
		}
	}
}

// Unlock releases the lock, allowing the next slot in the queue to acquire it.
func (l *ArrayLock) Unlock() {
	slot := l.holder

	l.flags[slot].Store(0)
	l.flags[l.next(slot)].Store(1)
}

// TryLock acquires the lock only if nobody holds or waits for it. The slot at tail is only
// flagged when every earlier slot has been released.
func (l *ArrayLock) TryLock() bool {
	t := l.tail.Load()
	if l.flags[t].Load() == 0 {
		return false
	}
	if !l.tail.CompareAndSwap(t, l.next(t)) {
		return false
	}
	l.holder = t
	return true
}

func (l *ArrayLock) next(slot uint32) uint32 { return (slot + 1) % l.size }

// isFree reports whether the lock is neither held nor waited for.
func (l *ArrayLock) isFree() bool {
	return l.flags[l.tail.Load()].Load() == 1
}
