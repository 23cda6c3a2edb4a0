package services

import (
	"strings"
	"time"

	"playloop/internal/core/domain"
	"playloop/internal/core/ports"
	"playloop/pkg/window"
)

// BandwidthEstimator turns transfer observations into throughput snapshots.
// Estimate recomputes from the retained window every call.
type BandwidthEstimator interface {
	Observe(obs domain.TransferObservation)
	Estimate(now time.Time) domain.BandwidthEstimate
	Reset()
}

type BandwidthConfig struct {
	Window             time.Duration
	InstantWindow      time.Duration
	MinTrendSamples    int
	TrendIncreaseRatio float64
	TrendDecreaseRatio float64
}

func DefaultBandwidthConfig() BandwidthConfig {
	return BandwidthConfig{
		Window:             30 * time.Second,
		InstantWindow:      2 * time.Second,
		MinTrendSamples:    10,
		TrendIncreaseRatio: 1.3,
		TrendDecreaseRatio: 0.7,
	}
}

// SelectBandwidthEstimator picks the estimator variant once, from the
// engine's capabilities.
func SelectBandwidthEstimator(caps domain.Capabilities, cfg BandwidthConfig, network ports.NetworkClassProvider) BandwidthEstimator {
	if caps.TransferObservation {
		return NewObservedEstimator(cfg)
	}
	return NewStaticFallbackEstimator(network)
}

// ObservedEstimator measures throughput from media transfers.
type ObservedEstimator struct {
	cfg     BandwidthConfig
	samples *window.SampleWindow
}

func NewObservedEstimator(cfg BandwidthConfig) *ObservedEstimator {
	return &ObservedEstimator{
		cfg:     cfg,
		samples: window.New(cfg.Window),
	}
}

// Observe records a transfer. Non-media kinds and empty transfers are ignored.
func (e *ObservedEstimator) Observe(obs domain.TransferObservation) {
	if !obs.Kind.IsMedia() || obs.Bytes <= 0 {
		return
	}
	e.samples.Record(float64(obs.Bytes), obs.Timestamp)
}

func (e *ObservedEstimator) Estimate(now time.Time) domain.BandwidthEstimate {
	e.samples.Prune(now)
	all := e.samples.Samples()

	return domain.BandwidthEstimate{
		CurrentMbps: RateMbps(e.samples.Since(now.Add(-e.cfg.InstantWindow))),
		AverageMbps: RateMbps(all),
		Trend:       e.trend(all),
		Source:      domain.SourceObserved,
		SampleCount: len(all),
		Timestamp:   now,
	}
}

func (e *ObservedEstimator) Reset() {
	e.samples.Reset()
}

func (e *ObservedEstimator) trend(samples []window.Sample) domain.Trend {
	if len(samples) < e.cfg.MinTrendSamples {
		return domain.TrendStable
	}
	mid := len(samples) / 2
	older := RateMbps(samples[:mid])
	newer := RateMbps(samples[mid:])

	switch {
	case newer > older*e.cfg.TrendIncreaseRatio:
		return domain.TrendIncreasing
	case newer < older*e.cfg.TrendDecreaseRatio:
		return domain.TrendDecreasing
	default:
		return domain.TrendStable
	}
}

// RateMbps converts byte samples to megabits per second over the span from
// the oldest to the newest sample. Fewer than two samples, or a zero span,
// yields 0.
func RateMbps(samples []window.Sample) float64 {
	if len(samples) < 2 {
		return 0
	}
	seconds := window.Span(samples).Seconds()
	if seconds <= 0 {
		return 0
	}
	return window.Sum(samples) * 8 / (seconds * 1_000_000)
}

var staticBandwidthTable = map[string]float64{
	"slow-2g": 0.05,
	"2g":      0.25,
	"3g":      1.5,
	"4g":      10,
}

const unknownNetworkMbps = 5.0

// StaticBandwidthMbps looks up a fixed throughput for a network class. A
// positive reported downlink wins over the table.
func StaticBandwidthMbps(nc domain.NetworkClass) float64 {
	if nc.DownlinkMbps > 0 {
		return nc.DownlinkMbps
	}
	if mbps, ok := staticBandwidthTable[strings.ToLower(nc.EffectiveType)]; ok {
		return mbps
	}
	return unknownNetworkMbps
}

// StaticFallbackEstimator serves engines that cannot report transfers.
type StaticFallbackEstimator struct {
	network ports.NetworkClassProvider
}

func NewStaticFallbackEstimator(network ports.NetworkClassProvider) *StaticFallbackEstimator {
	return &StaticFallbackEstimator{network: network}
}

func (e *StaticFallbackEstimator) Observe(domain.TransferObservation) {}

func (e *StaticFallbackEstimator) Estimate(now time.Time) domain.BandwidthEstimate {
	var nc domain.NetworkClass
	if e.network != nil {
		nc = e.network.NetworkClass()
	}
	mbps := StaticBandwidthMbps(nc)
	return domain.BandwidthEstimate{
		CurrentMbps: mbps,
		AverageMbps: mbps,
		Trend:       domain.TrendStable,
		Source:      domain.SourceStatic,
		Timestamp:   now,
	}
}

func (e *StaticFallbackEstimator) Reset() {}
