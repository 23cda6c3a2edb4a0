package services

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"playloop/internal/core/domain"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func observeSeries(e BandwidthEstimator, start time.Time, step time.Duration, sizes ...int64) time.Time {
	ts := start
	for i, size := range sizes {
		ts = start.Add(time.Duration(i) * step)
		e.Observe(domain.TransferObservation{Bytes: size, Timestamp: ts, Kind: domain.ResourceSegment})
	}
	return ts
}

func TestObservedEstimator_AverageAndCurrent(t *testing.T) {
	e := NewObservedEstimator(DefaultBandwidthConfig())
	last := observeSeries(e, t0, time.Second, 1_000_000, 1_000_000, 1_000_000, 1_000_000, 1_000_000)

	est := e.Estimate(last)

	// 5 MB over 4 s
	assert.InDelta(t, 10.0, est.AverageMbps, 1e-9)
	// samples at +3s and +4s fall inside the last two seconds
	assert.InDelta(t, 16.0, est.CurrentMbps, 1e-9)
	assert.Equal(t, domain.SourceObserved, est.Source)
	assert.Equal(t, 5, est.SampleCount)
	assert.Equal(t, domain.TrendStable, est.Trend)
}

func TestObservedEstimator_SingleSampleIsZero(t *testing.T) {
	e := NewObservedEstimator(DefaultBandwidthConfig())
	e.Observe(domain.TransferObservation{Bytes: 500_000, Timestamp: t0, Kind: domain.ResourceSegment})

	est := e.Estimate(t0.Add(time.Second))
	assert.Zero(t, est.CurrentMbps)
	assert.Zero(t, est.AverageMbps)
}

func TestObservedEstimator_IgnoresNonMediaTransfers(t *testing.T) {
	e := NewObservedEstimator(DefaultBandwidthConfig())
	e.Observe(domain.TransferObservation{Bytes: 1_000, Timestamp: t0, Kind: domain.ResourceOther})
	e.Observe(domain.TransferObservation{Bytes: 0, Timestamp: t0, Kind: domain.ResourceSegment})
	e.Observe(domain.TransferObservation{Bytes: 1_000, Timestamp: t0.Add(time.Second), Kind: "beacon"})

	assert.Zero(t, e.Estimate(t0.Add(time.Second)).SampleCount)
}

func TestObservedEstimator_PrunesOldSamples(t *testing.T) {
	e := NewObservedEstimator(DefaultBandwidthConfig())
	e.Observe(domain.TransferObservation{Bytes: 50_000_000, Timestamp: t0, Kind: domain.ResourceSegment})
	observeSeries(e, t0.Add(31*time.Second), time.Second, 1_000_000, 1_000_000, 1_000_000)

	est := e.Estimate(t0.Add(33 * time.Second))
	assert.Equal(t, 3, est.SampleCount)
	// 3 MB over 2 s
	assert.InDelta(t, 12.0, est.AverageMbps, 1e-9)
}

func TestObservedEstimator_Trend(t *testing.T) {
	repeat := func(n int, size int64) []int64 {
		out := make([]int64, n)
		for i := range out {
			out[i] = size
		}
		return out
	}

	cases := []struct {
		name  string
		older int64
		newer int64
		count int
		want  domain.Trend
	}{
		// older half 2.0 Mbps, newer half 3.0 Mbps
		{name: "increasing", older: 200_000, newer: 300_000, count: 5, want: domain.TrendIncreasing},
		{name: "decreasing", older: 200_000, newer: 100_000, count: 5, want: domain.TrendDecreasing},
		{name: "stable inside band", older: 200_000, newer: 240_000, count: 5, want: domain.TrendStable},
		{name: "too few samples", older: 200_000, newer: 900_000, count: 4, want: domain.TrendStable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewObservedEstimator(DefaultBandwidthConfig())
			observeSeries(e, t0, time.Second, repeat(tc.count, tc.older)...)
			last := observeSeries(e, t0.Add(time.Duration(tc.count)*time.Second), time.Second, repeat(tc.count, tc.newer)...)

			assert.Equal(t, tc.want, e.Estimate(last).Trend)
		})
	}
}

func TestObservedEstimator_AverageMatchesFormula(t *testing.T) {
	rng := rand.New(rand.NewSource(7<<32 | 11))
	for round := 0; round < 50; round++ {
		e := NewObservedEstimator(DefaultBandwidthConfig())
		n := 2 + rng.Intn(40)
		ts := t0
		var total float64
		for i := 0; i < n; i++ {
			ts = ts.Add(time.Duration(1+rng.Intn(700)) * time.Millisecond)
			size := int64(1 + rng.Intn(2_000_000))
			total += float64(size)
			e.Observe(domain.TransferObservation{Bytes: size, Timestamp: ts, Kind: domain.ResourceSegment})
		}
		first := e.samples.Samples()[0].Timestamp
		est := e.Estimate(ts)

		require.GreaterOrEqual(t, est.AverageMbps, 0.0)
		want := total * 8 / (ts.Sub(first).Seconds() * 1e6)
		assert.InDelta(t, want, est.AverageMbps, 1e-6)
	}
}

func TestObservedEstimator_Reset(t *testing.T) {
	e := NewObservedEstimator(DefaultBandwidthConfig())
	last := observeSeries(e, t0, time.Second, 1, 2, 3)
	e.Reset()
	assert.Zero(t, e.Estimate(last).SampleCount)
}

type fixedNetwork domain.NetworkClass

func (f fixedNetwork) NetworkClass() domain.NetworkClass { return domain.NetworkClass(f) }

func TestStaticBandwidthMbps(t *testing.T) {
	cases := []struct {
		nc   domain.NetworkClass
		want float64
	}{
		{domain.NetworkClass{EffectiveType: "slow-2g"}, 0.05},
		{domain.NetworkClass{EffectiveType: "2g"}, 0.25},
		{domain.NetworkClass{EffectiveType: "3g"}, 1.5},
		{domain.NetworkClass{EffectiveType: "4G"}, 10},
		{domain.NetworkClass{EffectiveType: "wifi"}, 5},
		{domain.NetworkClass{}, 5},
		{domain.NetworkClass{EffectiveType: "3g", DownlinkMbps: 7.2}, 7.2},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StaticBandwidthMbps(tc.nc), "%+v", tc.nc)
	}
}

func TestSelectBandwidthEstimator(t *testing.T) {
	observed := SelectBandwidthEstimator(domain.Capabilities{TransferObservation: true}, DefaultBandwidthConfig(), nil)
	assert.IsType(t, &ObservedEstimator{}, observed)

	static := SelectBandwidthEstimator(domain.Capabilities{}, DefaultBandwidthConfig(), fixedNetwork{EffectiveType: "3g"})
	require.IsType(t, &StaticFallbackEstimator{}, static)

	static.Observe(domain.TransferObservation{Bytes: 1_000_000, Timestamp: t0, Kind: domain.ResourceSegment})
	est := static.Estimate(t0)
	assert.Equal(t, 1.5, est.AverageMbps)
	assert.Equal(t, 1.5, est.CurrentMbps)
	assert.Equal(t, domain.TrendStable, est.Trend)
	assert.Equal(t, domain.SourceStatic, est.Source)
}
