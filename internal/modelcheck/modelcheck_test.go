package modelcheck

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckExhaustsSmallModel(t *testing.T) {
	var finished int
	report, err := Check(func(rt *Runtime) {
		a := rt.Spawn(func() { rt.Yield() })
		b := rt.Spawn(func() { rt.Yield() })
		a.Join()
		b.Join()
		finished++
	})

	require.NoError(t, err)
	assert.True(t, report.Exhausted)
	assert.Greater(t, report.Runs, 1)
	assert.Equal(t, report.Runs, finished, "every run should reach the end of main")
}

func TestCheckPreemptionBoundLimitsSearch(t *testing.T) {
	model := func(rt *Runtime) {
		var hs []*JoinHandle
		for range 3 {
			hs = append(hs, rt.Spawn(func() {
				rt.Yield()
				rt.Yield()
			}))
		}
		for _, h := range hs {
			h.Join()
		}
	}

	bounded, err := Check(model, WithMaxPreemptions(0))
	require.NoError(t, err)
	unbounded, err := Check(model, WithMaxPreemptions(-1))
	require.NoError(t, err)

	assert.True(t, bounded.Exhausted)
	assert.True(t, unbounded.Exhausted)
	assert.Less(t, bounded.Runs, unbounded.Runs)
}

func TestCheckMaxRuns(t *testing.T) {
	report, err := Check(func(rt *Runtime) {
		a := rt.Spawn(func() { rt.Yield() })
		rt.Yield()
		a.Join()
	}, WithMaxRuns(1))

	require.NoError(t, err)
	assert.Equal(t, 1, report.Runs)
	assert.False(t, report.Exhausted)
}

func TestCheckFindsLostUpdate(t *testing.T) {
	_, err := Check(func(rt *Runtime) {
		counter := 0
		inc := func() {
			v := counter
			rt.Yield()
			counter = v + 1
		}
		a := rt.Spawn(inc)
		b := rt.Spawn(inc)
		a.Join()
		b.Join()
		if got := counter; got != 2 {
			panic(fmt.Sprintf("counter is %d, want 2", got))
		}
	})

	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Contains(t, failure.Error(), "counter is 1")
	assert.NotEmpty(t, failure.Schedule)
}

func TestCheckFindsOverlappingAccess(t *testing.T) {
	_, err := Check(func(rt *Runtime) {
		c := NewCell(rt, 0)
		inc := func() { c.With(func(p *int) { *p++ }) }
		a := rt.Spawn(inc)
		b := rt.Spawn(inc)
		a.Join()
		b.Join()
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "inside cell at once")
}

func TestMutexProvidesExclusion(t *testing.T) {
	report, err := Check(func(rt *Runtime) {
		mu := rt.NewMutex()
		c := NewCell(rt, 0)
		inc := func() {
			mu.Lock()
			defer mu.Unlock()
			var v int
			c.With(func(p *int) { v = *p })
			c.With(func(p *int) { *p = v + 1 })
		}
		a := rt.Spawn(inc)
		b := rt.Spawn(inc)
		inc()
		a.Join()
		b.Join()
		if got := c.Load(); got != 3 {
			panic(fmt.Sprintf("counter is %d, want 3", got))
		}
	})

	require.NoError(t, err)
	assert.True(t, report.Exhausted)
}

func TestCheckFindsLockOrderDeadlock(t *testing.T) {
	_, err := Check(func(rt *Runtime) {
		m1, m2 := rt.NewMutex(), rt.NewMutex()
		a := rt.Spawn(func() {
			m1.Lock()
			m2.Lock()
			m2.Unlock()
			m1.Unlock()
		})
		b := rt.Spawn(func() {
			m2.Lock()
			m1.Lock()
			m1.Unlock()
			m2.Unlock()
		})
		a.Join()
		b.Join()
	})

	assert.True(t, errors.Is(err, ErrDeadlock), "got %v", err)
}

func TestCheckFindsMissedWakeup(t *testing.T) {
	_, err := Check(func(rt *Runtime) {
		main := rt.Current()
		rt.Spawn(func() {}) // never wakes main
		main.Park()
	})

	assert.ErrorIs(t, err, ErrDeadlock)
}

func TestUnparkBeforePark(t *testing.T) {
	report, err := Check(func(rt *Runtime) {
		main := rt.Current()
		a := rt.Spawn(func() { main.Unpark() })
		main.Park()
		a.Join()
	})

	require.NoError(t, err)
	assert.True(t, report.Exhausted)
}

func TestPanicInThreadFailsRun(t *testing.T) {
	report, err := Check(func(rt *Runtime) {
		a := rt.Spawn(func() { panic("boom") })
		a.Join()
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "thread 1 panicked: boom")
	assert.Equal(t, 1, report.Runs)
}

func TestScheduleAdvance(t *testing.T) {
	var s schedule
	assert.Equal(t, 0, s.choose(2))
	assert.Equal(t, 0, s.choose(3))
	assert.Equal(t, 0, s.choose(1), "single option is not recorded")

	var seen [][]int
	for {
		seen = append(seen, s.trace())
		if !s.advance() {
			break
		}
		s.rewind()
		s.choose(2)
		s.choose(3)
	}

	assert.Equal(t, [][]int{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}}, seen)
}
