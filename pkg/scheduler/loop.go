package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// Loop is a real-time Scheduler backed by one goroutine.
type Loop struct {
	tasks chan func()
	done  chan struct{}

	mu     sync.Mutex
	timers map[*loopTimer]struct{}
	closed bool

	started   atomic.Bool
	exited    chan struct{}
	closeOnce sync.Once
}

// NewLoop creates a loop with a task queue of the given size. Call Start
// before submitting work and Close when finished.
func NewLoop(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Loop{
		tasks:  make(chan func(), queueSize),
		done:   make(chan struct{}),
		timers: make(map[*loopTimer]struct{}),
		exited: make(chan struct{}),
	}
}

// Start launches the loop goroutine. Subsequent calls are no-ops.
func (l *Loop) Start() {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.run()
}

func (l *Loop) run() {
	defer close(l.exited)
	for {
		select {
		case <-l.done:
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Now returns wall-clock time.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Post queues fn on the loop.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and blocks until it returns. It must not be called
// from the loop goroutine itself.
func (l *Loop) Do(fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

// Async runs work on its own goroutine and posts done back to the loop.
// If the loop closes first, done is dropped.
func (l *Loop) Async(work func() error, done func(error)) {
	go func() {
		err := work()
		l.Post(func() { done(err) })
	}()
}

// AfterFunc schedules fn once after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return l.schedule(d, 0, fn)
}

// Every schedules fn every d.
func (l *Loop) Every(d time.Duration, fn func()) Timer {
	if d <= 0 {
		return noopTimer{}
	}
	return l.schedule(d, d, fn)
}

func (l *Loop) schedule(d, period time.Duration, fn func()) Timer {
	lt := &loopTimer{loop: l, period: period}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return noopTimer{}
	}
	l.timers[lt] = struct{}{}

	lt.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if lt.stopped.Load() {
				return
			}
			if lt.period == 0 {
				lt.stopped.Store(true)
				l.forget(lt)
			}
			fn()
			if lt.period > 0 && !lt.stopped.Load() {
				lt.timer().Reset(lt.period)
			}
		})
	})
	return lt
}

func (l *Loop) forget(lt *loopTimer) {
	l.mu.Lock()
	delete(l.timers, lt)
	l.mu.Unlock()
}

// Close cancels every outstanding timer, stops the loop goroutine and waits
// for it to exit. Pending tasks are discarded. Close must not be called from
// the loop goroutine.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		timers := l.timers
		l.timers = make(map[*loopTimer]struct{})
		l.mu.Unlock()

		for lt := range timers {
			lt.Stop()
		}
		close(l.done)
		if l.started.Load() {
			<-l.exited
		}
	})
}

type loopTimer struct {
	loop    *Loop
	t       *time.Timer
	period  time.Duration
	stopped atomic.Bool
}

func (lt *loopTimer) timer() *time.Timer {
	lt.loop.mu.Lock()
	defer lt.loop.mu.Unlock()
	return lt.t
}

func (lt *loopTimer) Stop() bool {
	if lt.stopped.Swap(true) {
		return false
	}
	if t := lt.timer(); t != nil {
		t.Stop()
	}
	lt.loop.forget(lt)
	return true
}
