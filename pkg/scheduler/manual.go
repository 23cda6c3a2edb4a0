package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler driven by a virtual clock. Nothing runs until the
// owner calls Advance, RunPending or WaitAsync, and callbacks run on the
// caller's goroutine. It is intended for tests.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	timers  []*manualTimer
	pending []func()
	closed  bool

	async sync.WaitGroup
}

// NewManual creates a manual scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

type manualTimer struct {
	m       *Manual
	when    time.Time
	period  time.Duration
	seq     uint64
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.m.remove(t)
	return true
}

// Now returns the virtual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc schedules fn at Now()+d.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	return m.add(d, 0, fn)
}

// Every schedules fn every d.
func (m *Manual) Every(d time.Duration, fn func()) Timer {
	if d <= 0 {
		return noopTimer{}
	}
	return m.add(d, d, fn)
}

func (m *Manual) add(d, period time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return noopTimer{}
	}
	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTimer{m: m, when: m.now.Add(d), period: period, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// remove drops t from the timer list; m.mu must be held.
func (m *Manual) remove(t *manualTimer) {
	for i, other := range m.timers {
		if other == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

// Post queues fn until the next RunPending/Advance. Safe for concurrent use.
func (m *Manual) Post(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.pending = append(m.pending, fn)
	return true
}

// Do runs fn immediately on the caller's goroutine.
func (m *Manual) Do(fn func()) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	fn()
	return nil
}

// Async runs work on a goroutine; done is queued for the next RunPending.
func (m *Manual) Async(work func() error, done func(error)) {
	m.async.Add(1)
	go func() {
		defer m.async.Done()
		err := work()
		m.Post(func() { done(err) })
	}()
}

// WaitAsync blocks until every Async work function has returned and then
// runs the queued completions.
func (m *Manual) WaitAsync() {
	m.async.Wait()
	m.RunPending()
}

// RunPending runs posted callbacks, including ones posted while running.
func (m *Manual) RunPending() {
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		fn()
	}
}

// Advance moves the clock forward by d, firing due timers in deadline order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	m.RunPending()
	for {
		m.mu.Lock()
		next := m.nextDue(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			break
		}
		m.now = next.when
		if next.period > 0 {
			next.when = next.when.Add(next.period)
		} else {
			next.stopped = true
			m.remove(next)
		}
		fn := next.fn
		m.mu.Unlock()

		fn()
		m.RunPending()
	}
	m.RunPending()
}

// nextDue returns the earliest timer due at or before target; m.mu must be held.
func (m *Manual) nextDue(target time.Time) *manualTimer {
	if len(m.timers) == 0 {
		return nil
	}
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].when.Equal(m.timers[j].when) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].when.Before(m.timers[j].when)
	})
	if m.timers[0].when.After(target) {
		return nil
	}
	return m.timers[0]
}

// PendingTimers reports how many timers are armed.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Close cancels all timers and drops pending work.
func (m *Manual) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, t := range m.timers {
		t.stopped = true
	}
	m.timers = nil
	m.pending = nil
}
