package modelcheck

import "fmt"

// Mutex is a modelled sync.Locker. Every Lock is a choice point.
type Mutex struct {
	rt      *Runtime
	owner   *Thread
	waiters []*Thread
}

// NewMutex creates an unlocked mutex.
func (rt *Runtime) NewMutex() *Mutex { return &Mutex{rt: rt} }

// Lock acquires m, blocking the calling thread while another holds it.
func (m *Mutex) Lock() {
	m.rt.reschedule()
	cur := m.rt.current
	for m.owner != nil {
		if m.owner == cur {
			panic("modelcheck: recursive lock")
		}
		m.waiters = append(m.waiters, cur)
		m.rt.block()
	}
	m.owner = cur
}

// Unlock releases m and makes its waiters runnable.
func (m *Mutex) Unlock() {
	if m.owner == nil {
		panic("modelcheck: unlock of unlocked mutex")
	}
	m.owner = nil
	for _, th := range m.waiters {
		th.state = runnable
	}
	m.waiters = m.waiters[:0]
}

// Cell holds a value that is not synchronized by itself. Each access is spread over two
// choice points, so any schedule in which two threads overlap inside With fails the run.
type Cell[T any] struct {
	rt     *Runtime
	v      T
	inside int
}

// NewCell creates a cell holding v.
func NewCell[T any](rt *Runtime, v T) *Cell[T] { return &Cell[T]{rt: rt, v: v} }

// With calls fn with a pointer to the value.
func (c *Cell[T]) With(fn func(*T)) {
	c.rt.reschedule()
	c.inside++
	if c.inside > 1 {
		panic(fmt.Sprintf("modelcheck: %d threads inside cell at once", c.inside))
	}
	c.rt.reschedule()
	fn(&c.v)
	c.inside--
}

// Load returns the value without a choice point or overlap check, for assertions once the
// model's threads have been joined.
func (c *Cell[T]) Load() T { return c.v }
