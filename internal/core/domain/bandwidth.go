package domain

import (
	"fmt"
	"time"
)

// Trend classifies the direction of measured throughput.
type Trend int

const (
	TrendStable Trend = iota
	TrendIncreasing
	TrendDecreasing
)

func (t Trend) String() string {
	switch t {
	case TrendIncreasing:
		return "increasing"
	case TrendDecreasing:
		return "decreasing"
	default:
		return "stable"
	}
}

func (t Trend) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Trend) UnmarshalText(b []byte) error {
	switch string(b) {
	case "stable":
		*t = TrendStable
	case "increasing":
		*t = TrendIncreasing
	case "decreasing":
		*t = TrendDecreasing
	default:
		return fmt.Errorf("unknown trend %q", b)
	}
	return nil
}

// EstimateSource tells whether an estimate was measured or looked up.
type EstimateSource string

const (
	SourceObserved EstimateSource = "observed"
	SourceStatic   EstimateSource = "static"
)

// BandwidthEstimate is a throughput snapshot in megabits per second.
type BandwidthEstimate struct {
	CurrentMbps float64        `json:"current_mbps"`
	AverageMbps float64        `json:"average_mbps"`
	Trend       Trend          `json:"trend"`
	Source      EstimateSource `json:"source"`
	SampleCount int            `json:"sample_count"`
	Timestamp   time.Time      `json:"timestamp"`
}

// ResourceKind is the type of a network fetch reported by the media engine.
type ResourceKind string

const (
	ResourceSegment  ResourceKind = "segment"
	ResourceManifest ResourceKind = "manifest"
	ResourceInit     ResourceKind = "init"
	ResourceOther    ResourceKind = "other"
)

// IsMedia reports whether transfers of this kind count toward throughput.
func (k ResourceKind) IsMedia() bool {
	switch k {
	case ResourceSegment, ResourceManifest, ResourceInit:
		return true
	}
	return false
}

// TransferObservation is one completed media-related fetch.
type TransferObservation struct {
	Bytes     int64        `json:"bytes"`
	Timestamp time.Time    `json:"timestamp"`
	Kind      ResourceKind `json:"kind"`
}

// NetworkClass is the coarse connection signal used when transfers cannot be
// observed, e.g. the Network Information API's effectiveType and downlink.
type NetworkClass struct {
	EffectiveType string  `json:"effective_type"`
	DownlinkMbps  float64 `json:"downlink_mbps"`
}

// Capabilities describes what the media engine can report. It is fixed for
// the life of a session.
type Capabilities struct {
	TransferObservation bool         `json:"transfer_observation"`
	Network             NetworkClass `json:"network"`
}
