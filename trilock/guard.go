package trilock

import "go.uber.org/atomic"

// Guard is proof of exclusive access to the protected value. It is only created by a
// successful acquisition and stays valid until Unlock.
type Guard[T any] struct {
	shared   *state[T]
	identity Identity
	released atomic.Bool
}

func newGuard[T any](shared *state[T], id Identity) *Guard[T] {
	return &Guard[T]{shared: shared, identity: id}
}

// Identity returns the identity of the handle that acquired the guard.
func (g *Guard[T]) Identity() Identity { return g.identity }

// Get returns a copy of the protected value.
func (g *Guard[T]) Get() T {
	var v T
	g.Update(func(p *T) { v = *p })
	return v
}

// Set replaces the protected value.
func (g *Guard[T]) Set(v T) {
	g.Update(func(p *T) { *p = v })
}

// Update calls fn with a pointer to the protected value. The pointer must not be retained
// after fn returns.
func (g *Guard[T]) Update(fn func(*T)) {
	if g.released.Load() {
		panic("trilock: use of released guard")
	}
	g.shared.cell.With(fn)
}

// Unlock releases the lock and wakes the next waiter.
// It panics if the guard was already released.
func (g *Guard[T]) Unlock() {
	if !g.released.CompareAndSwap(false, true) {
		panic("trilock: unlock of released guard")
	}
	g.shared.release(g.identity)
}
