// Package modelcheck runs concurrent code under a deterministic scheduler and enumerates
// its interleavings.
//
// Code under test is written against the primitives of a Runtime instead of goroutines and
// sync: Spawn and Join for threads, NewMutex for a sync.Locker, NewCell for shared data,
// and Thread.Park/Unpark for suspension. Only one modelled thread executes at a time. At
// every choice point (locking, cell access, parking, Yield) the scheduler decides which
// runnable thread continues, and Check replays the model once per distinct sequence of
// decisions, depth first, until all have been tried.
//
// A run fails when a thread panics, when two threads are inside the same Cell at once, or
// when unfinished threads remain and none can run. Check stops at the first failure and
// returns it together with the schedule that produced it.
//
// The number of preemptive switches per run is bounded (WithMaxPreemptions), which keeps
// the search polynomial; most concurrency bugs need only one or two preemptions to show.
package modelcheck

import (
	"errors"
	"fmt"
)

// ErrDeadlock is reported when no thread can make progress before all have finished.
var ErrDeadlock = errors.New("modelcheck: deadlock")

// Report summarises an exploration.
type Report struct {
	Runs      int  // schedules executed
	Exhausted bool // every schedule within the preemption bound was executed
}

// Failure is the error returned by Check when a run fails.
type Failure struct {
	Run      int   // 1-based index of the failing run
	Schedule []int // decision taken at each choice point with more than one option
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("modelcheck: run %d failed (schedule %v): %v", f.Run, f.Schedule, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

type config struct {
	maxRuns        int
	maxPreemptions int
}

// Option configures Check.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

// WithMaxRuns stops the exploration after n runs. Zero or less means no limit.
// Defaults to 100000.
func WithMaxRuns(n int) Option {
	return optionFunc(func(c *config) { c.maxRuns = n })
}

// WithMaxPreemptions bounds how many times per run a thread that could continue is switched
// out. Negative means no bound. Defaults to 2.
func WithMaxPreemptions(n int) Option {
	return optionFunc(func(c *config) { c.maxPreemptions = n })
}

// Check runs fn as the main thread of a model, once per schedule. fn must be deterministic
// apart from scheduling: the same decisions have to lead to the same choice points.
func Check(fn func(rt *Runtime), opts ...Option) (Report, error) {
	cfg := &config{maxRuns: 100000, maxPreemptions: 2}
	for _, opt := range opts {
		if opt != nil {
			opt.apply(cfg)
		}
	}

	var (
		sched  schedule
		report Report
	)
	for {
		report.Runs++
		if err := execute(&sched, cfg, fn); err != nil {
			return report, &Failure{Run: report.Runs, Schedule: sched.trace(), Err: err}
		}
		if !sched.advance() {
			report.Exhausted = true
			return report, nil
		}
		if cfg.maxRuns > 0 && report.Runs >= cfg.maxRuns {
			return report, nil
		}
	}
}

// schedule records the decisions of the current run and drives the depth first search.
type schedule struct {
	choices []choice
	pos     int
}

type choice struct {
	picked, of int
}

func (s *schedule) rewind() { s.pos = 0 }

// choose returns the decision for a choice point with n options, replaying the recorded
// prefix and taking the first option beyond it.
func (s *schedule) choose(n int) int {
	if n == 1 {
		return 0
	}
	if s.pos < len(s.choices) {
		c := s.choices[s.pos]
		s.pos++
		if c.of != n {
			panic(fmt.Sprintf("modelcheck: nondeterministic model: choice point %d had %d options, now %d", s.pos-1, c.of, n))
		}
		return c.picked
	}
	s.choices = append(s.choices, choice{of: n})
	s.pos++
	return 0
}

// advance moves to the next untried schedule, reporting false when there is none.
func (s *schedule) advance() bool {
	for i := len(s.choices) - 1; i >= 0; i-- {
		if s.choices[i].picked+1 < s.choices[i].of {
			s.choices[i].picked++
			s.choices = s.choices[:i+1]
			return true
		}
	}
	return false
}

func (s *schedule) trace() []int {
	out := make([]int, s.pos)
	for i := range out {
		out[i] = s.choices[i].picked
	}
	return out
}
