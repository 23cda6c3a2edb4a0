// Package window provides a time-bounded sample accumulator.
//
// A SampleWindow keeps (value, timestamp) pairs in insertion order and drops
// samples once they fall out of the configured duration. It is single-writer
// and does no locking; callers confine it to one goroutine.
package window

import "time"

// Sample is one observed value at a point in time.
type Sample struct {
	Value     float64
	Timestamp time.Time
}

// SampleWindow is a sliding, time-bounded history of samples.
type SampleWindow struct {
	duration time.Duration
	samples  []Sample
}

// New creates a window retaining samples younger than d.
func New(d time.Duration) *SampleWindow {
	return &SampleWindow{
		duration: d,
		samples:  make([]Sample, 0, 64),
	}
}

// Duration returns the configured window length.
func (w *SampleWindow) Duration() time.Duration {
	return w.duration
}

// Record appends a sample. Timestamps earlier than the newest retained
// sample are clamped to it so insertion order always equals time order.
func (w *SampleWindow) Record(value float64, ts time.Time) {
	if n := len(w.samples); n > 0 && ts.Before(w.samples[n-1].Timestamp) {
		ts = w.samples[n-1].Timestamp
	}
	w.samples = append(w.samples, Sample{Value: value, Timestamp: ts})
}

// Prune removes every sample with now - timestamp >= window duration.
func (w *SampleWindow) Prune(now time.Time) {
	expired := 0
	for _, s := range w.samples {
		if now.Sub(s.Timestamp) < w.duration {
			break
		}
		expired++
	}
	if expired == 0 {
		return
	}
	// Shift down so the backing array does not grow without bound.
	n := copy(w.samples, w.samples[expired:])
	w.samples = w.samples[:n]
}

// Samples returns a copy of the retained samples in time order.
func (w *SampleWindow) Samples() []Sample {
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Since returns the retained samples whose timestamp is strictly after cutoff.
func (w *SampleWindow) Since(cutoff time.Time) []Sample {
	for i, s := range w.samples {
		if s.Timestamp.After(cutoff) {
			out := make([]Sample, len(w.samples)-i)
			copy(out, w.samples[i:])
			return out
		}
	}
	return nil
}

// Len returns the number of retained samples.
func (w *SampleWindow) Len() int {
	return len(w.samples)
}

// Reset drops all samples, keeping capacity.
func (w *SampleWindow) Reset() {
	w.samples = w.samples[:0]
}

// Sum returns the total of the values in samples.
func Sum(samples []Sample) float64 {
	var total float64
	for _, s := range samples {
		total += s.Value
	}
	return total
}

// Span returns the time between the oldest and newest of samples.
func Span(samples []Sample) time.Duration {
	if len(samples) < 2 {
		return 0
	}
	return samples[len(samples)-1].Timestamp.Sub(samples[0].Timestamp)
}
