package trilock

import "context"

// Waker resumes a suspended acquisition. Wake may be called from any goroutine, at most once
// per registration, and must not block.
//
// Wake is called after the lock's internal state has been updated and unlocked, so by the
// time it runs another handle may already have taken the lock. The woken party finds out by
// polling again, which then registers it anew.
type Waker interface {
	Wake()
}

// WakerFunc adapts a function to a Waker.
type WakerFunc func()

// Wake calls f.
func (f WakerFunc) Wake() { f() }

type phase uint8

const (
	phaseFresh     phase = iota // holds its handle, never returned pending
	phaseSuspended              // returned pending, may be registered as a waiter
	phaseCompleted              // yielded a guard
	phaseCancelled
)

// Future is an acquisition in progress. It is created by Handle.Acquire and driven by
// calling Poll until it yields a Guard. A Future is not safe for concurrent use.
type Future[T any] struct {
	handle *Handle[T] // nil while lent out to a poll, and once finished
	phase  phase
}

// Acquire starts an acquisition. Nothing happens until the returned future is polled.
func (h *Handle[T]) Acquire() *Future[T] {
	h.mustBeOpen()
	return &Future[T]{handle: h}
}

// Poll attempts the acquisition. On success it returns the Guard and the future is done.
// Otherwise w is registered and will be woken when it is worth polling again. Polling a
// future that has completed or been cancelled panics.
func (f *Future[T]) Poll(w Waker) (*Guard[T], bool) {
	if w == nil {
		panic("trilock: nil waker")
	}

	h := f.handle
	if h == nil {
		switch f.phase {
		case phaseCompleted:
			panic("trilock: future polled after completion")
		case phaseCancelled:
			panic("trilock: future polled after cancel")
		default:
			panic("trilock: future polled without its handle")
		}
	}
	h.mustBeOpen()

	f.handle = nil
	if g, ok := h.PollLock(w); ok {
		f.phase = phaseCompleted
		return g, true
	}
	f.handle = h
	f.phase = phaseSuspended
	return nil, false
}

// Cancel abandons the acquisition, leaving no registration behind for the handle. If the
// future had already been woken, the wake is handed to the next waiter. Cancelling a
// completed future does nothing; the Guard it produced still has to be unlocked.
func (f *Future[T]) Cancel() {
	switch f.phase {
	case phaseCompleted, phaseCancelled:
		return
	case phaseSuspended:
		// Close has already abandoned on behalf of a closed handle.
		if h := f.handle; h != nil && !h.closed.Load() {
			h.shared.abandon(h.identity)
		}
	}
	f.handle = nil
	f.phase = phaseCancelled
}

// Lock blocks until the lock is acquired or ctx is done. It drives a Future, parking the
// calling goroutine between polls. On cancellation the acquisition is abandoned and
// ctx.Err() is returned.
func (h *Handle[T]) Lock(ctx context.Context) (*Guard[T], error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wake := make(chan struct{}, 1)
	w := WakerFunc(func() {
		select {
		case wake <- struct{}{}:
		default: // already pending
		}
	})

	f := h.Acquire()
	for {
		if g, ok := f.Poll(w); ok {
			return g, nil
		}

		select {
		case <-wake:
		case <-ctx.Done():
			f.Cancel()
			return nil, ctx.Err()
		}
	}
}
