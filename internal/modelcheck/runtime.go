package modelcheck

import (
	"fmt"
	"sync"
)

type threadState uint8

const (
	runnable threadState = iota
	blocked
	finished
)

// abort unwinds a modelled thread once its run has ended.
type abort struct{}

// Runtime is one execution of a model. Its methods, and those of everything created from
// it, must only be called from the model's own threads.
type Runtime struct {
	sched          *schedule
	maxPreemptions int
	preemptions    int

	threads []*Thread
	current *Thread

	failure  error
	stopOnce sync.Once
	aborted  chan struct{} // closed on failure
	done     chan struct{} // closed when the run ends, either way
}

// Thread is a modelled thread.
type Thread struct {
	rt      *Runtime
	id      int
	state   threadState
	resume  chan struct{}
	parked  bool
	token   bool
	joiners []*Thread
}

// JoinHandle waits for a spawned thread.
type JoinHandle struct {
	th *Thread
}

func execute(sched *schedule, cfg *config, fn func(*Runtime)) error {
	sched.rewind()
	rt := &Runtime{
		sched:          sched,
		maxPreemptions: cfg.maxPreemptions,
		aborted:        make(chan struct{}),
		done:           make(chan struct{}),
	}
	main := rt.spawn(func() { fn(rt) })
	rt.current = main
	main.resume <- struct{}{}
	<-rt.done
	return rt.failure
}

// Current returns the thread that is executing.
func (rt *Runtime) Current() *Thread { return rt.current }

// Spawn starts a new thread running fn. It does not run until the scheduler picks it.
func (rt *Runtime) Spawn(fn func()) *JoinHandle {
	return &JoinHandle{th: rt.spawn(fn)}
}

// Yield is a bare choice point.
func (rt *Runtime) Yield() { rt.reschedule() }

// Join blocks the calling thread until the spawned thread has returned.
func (h *JoinHandle) Join() {
	rt := h.th.rt
	for h.th.state != finished {
		h.th.joiners = append(h.th.joiners, rt.current)
		rt.block()
	}
}

// ID returns the thread's index in spawn order; the main thread is 0.
func (th *Thread) ID() int { return th.id }

// Park suspends th until Unpark is called. An Unpark that happened since the last Park is
// consumed immediately. Park must be called by th itself.
func (th *Thread) Park() {
	rt := th.rt
	if rt.current != th {
		panic("modelcheck: park called from another thread")
	}
	rt.reschedule()
	for !th.token {
		th.parked = true
		rt.block()
	}
	th.token = false
}

// Unpark makes a parked th runnable, or lets its next Park return at once.
func (th *Thread) Unpark() {
	th.token = true
	if th.parked {
		th.parked = false
		th.state = runnable
	}
}

func (rt *Runtime) spawn(body func()) *Thread {
	th := &Thread{rt: rt, id: len(rt.threads), resume: make(chan struct{}, 1)}
	rt.threads = append(rt.threads, th)
	go th.run(body)
	return th
}

func (th *Thread) run(body func()) {
	if !th.wait() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			if _, unwinding := r.(abort); !unwinding {
				th.rt.fail(fmt.Errorf("thread %d panicked: %v", th.id, r))
			}
		}
	}()
	body()
	th.rt.exit(th)
}

// wait blocks the goroutine until the scheduler hands it control, reporting false if the
// run was aborted instead.
func (th *Thread) wait() bool {
	select {
	case <-th.resume:
		return true
	case <-th.rt.aborted:
		return false
	}
}

// block suspends the current thread until something marks it runnable.
func (rt *Runtime) block() {
	rt.current.state = blocked
	rt.reschedule()
}

// reschedule is a choice point: it picks the next thread and, if that is not the caller,
// hands over control and waits to get it back.
func (rt *Runtime) reschedule() {
	select {
	case <-rt.aborted:
		panic(abort{})
	default:
	}

	cur := rt.current
	next := rt.pick()
	if next == nil {
		rt.fail(ErrDeadlock)
		panic(abort{})
	}
	if next == cur {
		return
	}

	rt.current = next
	next.resume <- struct{}{}
	if !cur.wait() {
		panic(abort{})
	}
}

func (rt *Runtime) exit(th *Thread) {
	th.state = finished
	for _, j := range th.joiners {
		j.state = runnable
	}
	th.joiners = nil

	next := rt.pick()
	if next == nil {
		for _, other := range rt.threads {
			if other.state != finished {
				rt.fail(ErrDeadlock)
				return
			}
		}
		rt.stop()
		return
	}
	rt.current = next
	next.resume <- struct{}{}
}

// pick chooses among the runnable threads. Continuing the current thread is always the
// first option, and switching away from it counts as a preemption.
func (rt *Runtime) pick() *Thread {
	cur := rt.current
	curRunnable := cur.state == runnable

	var candidates []*Thread
	if curRunnable {
		candidates = append(candidates, cur)
	}
	if !curRunnable || rt.maxPreemptions < 0 || rt.preemptions < rt.maxPreemptions {
		for _, th := range rt.threads {
			if th != cur && th.state == runnable {
				candidates = append(candidates, th)
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	next := candidates[rt.sched.choose(len(candidates))]
	if curRunnable && next != cur {
		rt.preemptions++
	}
	return next
}

func (rt *Runtime) fail(err error) {
	if rt.failure == nil {
		rt.failure = err
	}
	rt.stopOnce.Do(func() {
		close(rt.aborted)
		close(rt.done)
	})
}

func (rt *Runtime) stop() {
	rt.stopOnce.Do(func() { close(rt.done) })
}
