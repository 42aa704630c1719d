// Package trilock implements a mutual exclusion lock shared by exactly three participants.
// New returns three handles bound to one protected value, each carrying its own identity
// (First, Second or Third). At most one handle holds the value at any time.
//
// Acquisition is poll based so the lock can be driven by any executor: a Future is polled
// with a Waker, and either yields a Guard or registers the waker and reports pending. For
// plain goroutines, Handle.Lock drives the future itself and honours context cancellation.
//
// The three-way lock provides several properties:
//   - Waiters live in a fixed table indexed by identity, so waiting never allocates
//   - Releasing a Guard wakes exactly one waiter
//   - Abandoning an acquisition (Future.Cancel, Handle.Close) never strands the other two
//
// Wake order is a fixed priority, not arrival order: First is preferred over Second, which
// is preferred over Third. Third is only woken when neither of the others is waiting at
// release time, so it can starve while First and Second keep contending.
//
// Example usage:
//
//	a, b, c := trilock.New(0)
//
//	// Blocking acquisition
//	g, err := a.Lock(ctx)
//	if err != nil {
//	    return err
//	}
//	g.Update(func(v *int) { *v++ })
//	g.Unlock()
//
//	// Poll based acquisition, driven by your own scheduler
//	f := b.Acquire()
//	if g, ok := f.Poll(waker); ok {
//	    // ... critical section ...
//	    g.Unlock()
//	}
//
//	// Non-blocking try-lock
//	if g, ok := c.TryLock(); ok {
//	    g.Unlock()
//	}
//
// Each handle is meant to be owned by one participant, and a handle should have at most one
// acquisition in flight at a time.
package trilock

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Identity distinguishes the three handles of one lock. It doubles as the index of the
// handle's slot in the waiter table and as its wake priority (lower wins).
type Identity int

const (
	First Identity = iota
	Second
	Third

	// NumIdentities is the number of handles every lock has.
	NumIdentities = 3
)

func (id Identity) String() string {
	switch id {
	case First:
		return "first"
	case Second:
		return "second"
	case Third:
		return "third"
	}
	return fmt.Sprintf("Identity(%d)", int(id))
}

// ErrClosed is returned by Handle.Lock when the handle has been closed.
var ErrClosed = errors.New("trilock: handle closed")

// Cell stores the protected value. It provides no synchronization of its own: With is only
// called by the holder of a Guard, and the lock guarantees there is at most one.
type Cell[T any] interface {
	With(fn func(*T))
}

// valueCell is the Cell used by New.
type valueCell[T any] struct{ v T }

func (c *valueCell[T]) With(fn func(*T)) { fn(&c.v) }

// state is shared by the three handles and every guard and future created from them.
// idle and waiters are only touched with mu held.
type state[T any] struct {
	mu      sync.Locker
	idle    bool                 // true iff no Guard exists
	waiters [NumIdentities]Waker // waiters[i] is set only while identity i is suspended
	cell    Cell[T]
	log     zerolog.Logger
}

// Handle is one of the three entry points into a lock.
type Handle[T any] struct {
	shared   *state[T]
	identity Identity
	closed   atomic.Bool
}

// New creates a lock protecting value and returns its three handles, in identity order.
func New[T any](value T, opts ...Option) (*Handle[T], *Handle[T], *Handle[T]) {
	return NewFromCell[T](&valueCell[T]{v: value}, opts...)
}

// NewFromCell is like New, but the value lives in the given cell.
func NewFromCell[T any](cell Cell[T], opts ...Option) (*Handle[T], *Handle[T], *Handle[T]) {
	if cell == nil {
		panic("trilock: nil cell")
	}
	cfg := resolveOptions(opts)
	shared := &state[T]{
		mu:   cfg.locker,
		idle: true,
		cell: cell,
		log:  cfg.logger,
	}

	return &Handle[T]{shared: shared, identity: First},
		&Handle[T]{shared: shared, identity: Second},
		&Handle[T]{shared: shared, identity: Third}
}

// Identity returns the handle's identity.
func (h *Handle[T]) Identity() Identity { return h.identity }

// PollLock makes a single acquisition attempt. If the lock is idle it returns a Guard.
// Otherwise w is registered in the handle's waiter slot, replacing any earlier registration,
// and will be woken when the lock is released to this handle. A nil w registers nothing.
func (h *Handle[T]) PollLock(w Waker) (*Guard[T], bool) {
	h.mustBeOpen()
	if !h.shared.tryAcquire(h.identity, w) {
		return nil, false
	}
	return newGuard(h.shared, h.identity), true
}

// TryLock attempts to acquire the lock without waiting. It never registers a waiter.
func (h *Handle[T]) TryLock() (*Guard[T], bool) { return h.PollLock(nil) }

// Close retires the handle. Any waiter it still has registered is removed. If it has none,
// yet the lock is idle, the wake it may have consumed is passed to the next waiter so the
// remaining handles are not left suspended. Close is idempotent; a closed handle must not
// be used to acquire again.
func (h *Handle[T]) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}
	h.shared.abandon(h.identity)
	h.shared.log.Debug().Stringer("identity", h.identity).Msg("trilock: handle closed")
}

func (h *Handle[T]) mustBeOpen() {
	if h.closed.Load() {
		panic("trilock: use of closed handle")
	}
}

// tryAcquire flips the lock from idle to held, or registers w for id.
func (s *state[T]) tryAcquire(id Identity, w Waker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idle {
		s.idle = false
		s.waiters[id] = nil // stale registration from an abandoned attempt
		s.log.Debug().Stringer("identity", id).Msg("trilock: acquired")
		return true
	}
	if w != nil {
		s.waiters[id] = w
		s.log.Debug().Stringer("identity", id).Msg("trilock: waiting")
	}
	return false
}

// release marks the lock idle and wakes the highest priority waiter, if any. The waiter's
// slot is emptied under mu, but the waker runs after mu is dropped so that it may poll
// straight away; the lock can be taken by someone else in between.
func (s *state[T]) release(id Identity) {
	s.mu.Lock()
	s.idle = true
	next, w := s.takeNextLocked()
	s.mu.Unlock()

	s.log.Debug().Stringer("identity", id).Msg("trilock: released")
	s.wake(next, w)
}

// abandon drops id's registration. When there was none and the lock is idle, id may have
// been woken by the last release and is now leaving without polling, so the wake is handed
// on; a spurious wake costs the receiver one extra poll.
func (s *state[T]) abandon(id Identity) {
	s.mu.Lock()
	registered := s.waiters[id] != nil
	s.waiters[id] = nil
	var (
		next Identity
		w    Waker
	)
	if !registered && s.idle {
		next, w = s.takeNextLocked()
	}
	s.mu.Unlock()

	s.log.Debug().Stringer("identity", id).Bool("registered", registered).Msg("trilock: abandoned")
	s.wake(next, w)
}

// takeNextLocked removes and returns the first registered waker in priority order.
func (s *state[T]) takeNextLocked() (Identity, Waker) {
	for i := range s.waiters {
		if w := s.waiters[i]; w != nil {
			s.waiters[i] = nil
			return Identity(i), w
		}
	}
	return -1, nil
}

func (s *state[T]) wake(id Identity, w Waker) {
	if w == nil {
		return
	}
	s.log.Debug().Stringer("identity", id).Msg("trilock: waking")
	w.Wake()
}
