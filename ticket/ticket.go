// Package ticket provides a fair spin lock that serves goroutines in the order they arrive.
// Every caller of Lock draws a ticket number and waits until that number is being served,
// so acquisition is FIFO. Waiting is adaptive: a goroutine backs off in proportion to how
// many tickets are ahead of it, and sleeps once it is far back in the queue.
//
// Lock implements sync.Locker. It suits short critical sections with few contenders, such
// as the internal state of a trilock:
//
//	a, b, c := trilock.New(0, trilock.WithLocker(ticket.NewLock()))
//
// The zero value is an unlocked lock.
package ticket

import (
	"runtime"
	"time"

	"go.uber.org/atomic"
)

// Lock is a ticket lock. Tickets are plain counters that wrap around, so the lock stays
// correct for as long as fewer than 2^32 goroutines wait at once.
type Lock struct {
	head atomic.Uint32 // ticket being served
	tail atomic.Uint32 // next ticket to be issued
}

// NewLock creates a new ticket lock.
func NewLock() *Lock { return new(Lock) }

const (
	ticketBaseWait uint32 = 10
	ticketSleepAt  uint32 = 20
)

// Lock acquires the lock, waiting for every earlier ticket to be served first.
func (l *Lock) Lock() {
	myTicket := l.tail.Inc() - 1

	for {
		ahead := myTicket - l.head.Load()
		if ahead == 0 {
			return
		}

		switch {
		case ahead > ticketSleepAt:
			time.Sleep(time.Millisecond)
		case ahead > 1:
			// Further back = longer backoff before looking again.
			for range ahead * ticketBaseWait {
				runtime.Gosched()
			}
		default:
			runtime.Gosched()
		}
	}
}

// TryLock acquires the lock only if nobody holds or waits for it.
func (l *Lock) TryLock() bool {
	// head never passes tail, so if tail still equals the head we saw, the lock was free
	// at the moment we took the ticket.
	head := l.head.Load()
	return l.tail.CompareAndSwap(head, head+1)
}

// Unlock releases the lock to the next ticket.
func (l *Lock) Unlock() { l.head.Inc() }

// isFree reports whether no ticket is outstanding.
func (l *Lock) isFree() bool { return l.head.Load() == l.tail.Load() }
