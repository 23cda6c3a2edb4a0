package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestManual_AfterFuncFiresAtDeadline(t *testing.T) {
	m := NewManual(start)
	var firedAt time.Time
	m.AfterFunc(3*time.Second, func() { firedAt = m.Now() })

	m.Advance(2 * time.Second)
	assert.True(t, firedAt.IsZero())

	m.Advance(time.Second)
	assert.Equal(t, start.Add(3*time.Second), firedAt)
	assert.Zero(t, m.PendingTimers())
}

func TestManual_EveryAndStop(t *testing.T) {
	m := NewManual(start)
	count := 0
	timer := m.Every(time.Second, func() { count++ })

	m.Advance(5 * time.Second)
	assert.Equal(t, 5, count)

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())
	m.Advance(5 * time.Second)
	assert.Equal(t, 5, count)
}

func TestManual_OrderIsByDeadlineThenSchedule(t *testing.T) {
	m := NewManual(start)
	var order []string
	m.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	m.AfterFunc(time.Second, func() { order = append(order, "a") })
	m.AfterFunc(2*time.Second, func() { order = append(order, "c") })

	m.Advance(10 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestManual_TimerArmedFromCallback(t *testing.T) {
	m := NewManual(start)
	fired := false
	m.AfterFunc(time.Second, func() {
		m.AfterFunc(time.Second, func() { fired = true })
	})
	m.Advance(2 * time.Second)
	assert.True(t, fired)
}

func TestManual_AsyncDeliversOnWait(t *testing.T) {
	m := NewManual(start)
	var got error
	delivered := false
	m.Async(func() error { return ErrClosed }, func(err error) {
		got = err
		delivered = true
	})
	m.WaitAsync()
	assert.True(t, delivered)
	assert.ErrorIs(t, got, ErrClosed)
}

func TestManual_CloseDropsEverything(t *testing.T) {
	m := NewManual(start)
	fired := false
	m.AfterFunc(time.Second, func() { fired = true })
	m.Close()
	m.Advance(time.Minute)
	assert.False(t, fired)
	assert.False(t, m.Post(func() {}))
	assert.ErrorIs(t, m.Do(func() {}), ErrClosed)
}

func TestLoop_RunsCallbacksSerially(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLoop(16)
	l.Start()
	defer l.Close()

	var n int64
	for i := 0; i < 100; i++ {
		require.True(t, l.Post(func() { atomic.AddInt64(&n, 1) }))
	}
	require.NoError(t, l.Do(func() {}))
	assert.Equal(t, int64(100), atomic.LoadInt64(&n))
}

func TestLoop_AfterFuncAndAsync(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLoop(16)
	l.Start()
	defer l.Close()

	fired := make(chan struct{})
	l.AfterFunc(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	result := make(chan error, 1)
	l.Async(func() error { return nil }, func(err error) { result <- err })
	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("async completion not delivered")
	}
}

func TestLoop_CloseCancelsTimers(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLoop(16)
	l.Start()

	var fired atomic.Bool
	l.AfterFunc(50*time.Millisecond, func() { fired.Store(true) })
	ticks := int64(0)
	l.Every(5*time.Millisecond, func() { atomic.AddInt64(&ticks, 1) })
	l.Close()

	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Do(func() {}), ErrClosed)
}
