// Package scheduler runs callbacks cooperatively on a single goroutine.
//
// Every callback handed to a Scheduler (timer expirations, posted closures,
// async completions) executes on the scheduler's loop, one at a time and to
// completion. State owned by code running on the loop therefore needs no
// locking. Loop is the production implementation; Manual is a deterministic
// implementation driven by an explicit virtual clock.
package scheduler

import (
	"errors"
	"time"
)

// ErrClosed is returned when work is submitted to a closed scheduler.
var ErrClosed = errors.New("scheduler closed")

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop cancels the callback. It reports whether the call prevented a
	// pending run. Stop is idempotent.
	Stop() bool
}

// Scheduler is the cooperative execution context components run on.
type Scheduler interface {
	// Now returns the scheduler's notion of the current time.
	Now() time.Time
	// AfterFunc runs fn on the loop once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer
	// Every runs fn on the loop every d until stopped.
	Every(d time.Duration, fn func()) Timer
	// Post queues fn to run on the loop. It reports false if the scheduler
	// is closed and fn was dropped.
	Post(fn func()) bool
	// Do runs fn on the loop and waits for it to finish.
	Do(fn func()) error
	// Async runs work off the loop and then delivers its result to done
	// on the loop.
	Async(work func() error, done func(error))
}

type noopTimer struct{}

func (noopTimer) Stop() bool { return false }
