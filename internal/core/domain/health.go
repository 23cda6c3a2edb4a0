package domain

import (
	"fmt"
	"time"
)

// Telemetry is the media engine's playback snapshot. Positions are in
// seconds of media time.
type Telemetry struct {
	CurrentPosition  float64   `json:"current_position"`
	Paused           bool      `json:"paused"`
	HasBufferedRange bool      `json:"has_buffered_range"`
	BufferedRangeEnd float64   `json:"buffered_range_end"`
	DroppedFrames    uint64    `json:"dropped_frames"`
	TotalFrames      uint64    `json:"total_frames"`
	Timestamp        time.Time `json:"timestamp"`
}

// BufferLevel returns seconds buffered ahead of the playhead, 0 without a
// buffered range.
func (t Telemetry) BufferLevel() float64 {
	if !t.HasBufferedRange {
		return 0
	}
	return t.BufferedRangeEnd - t.CurrentPosition
}

// DroppedFrameRate returns dropped frames as a percentage of decoded frames.
func (t Telemetry) DroppedFrameRate() float64 {
	if t.TotalFrames == 0 {
		return 0
	}
	return float64(t.DroppedFrames) / float64(t.TotalFrames) * 100
}

// Validate rejects snapshots that cannot come from a real player.
func (t Telemetry) Validate() error {
	if t.CurrentPosition < 0 || t.DroppedFrames > t.TotalFrames {
		return ErrInvalidTelemetry
	}
	if t.HasBufferedRange && t.BufferedRangeEnd < 0 {
		return ErrInvalidTelemetry
	}
	return nil
}

type HealthLevel int

const (
	HealthExcellent HealthLevel = iota
	HealthGood
	HealthWarning
	HealthCritical
)

func (l HealthLevel) String() string {
	switch l {
	case HealthExcellent:
		return "excellent"
	case HealthGood:
		return "good"
	case HealthWarning:
		return "warning"
	default:
		return "critical"
	}
}

func (l HealthLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *HealthLevel) UnmarshalText(b []byte) error {
	for _, level := range []HealthLevel{HealthExcellent, HealthGood, HealthWarning, HealthCritical} {
		if level.String() == string(b) {
			*l = level
			return nil
		}
	}
	return fmt.Errorf("unknown health level %q", b)
}

// LevelForScore maps a 0-100 score to a level.
func LevelForScore(score int) HealthLevel {
	switch {
	case score < 30:
		return HealthCritical
	case score < 60:
		return HealthWarning
	case score < 85:
		return HealthGood
	default:
		return HealthExcellent
	}
}

type HealthStatus struct {
	Score            int         `json:"score"`
	Level            HealthLevel `json:"level"`
	Issues           []string    `json:"issues"`
	Recommendations  []string    `json:"recommendations"`
	StallCount       uint32      `json:"stall_count"`
	BufferingTimeMs  uint64      `json:"buffering_time_ms"`
	BufferLevel      float64     `json:"buffer_level"`
	DroppedFrameRate float64     `json:"dropped_frame_rate"`
	Stalled          bool        `json:"stalled"`
	Timestamp        time.Time   `json:"timestamp"`
}

// HealthyStatus is the status before any telemetry has been scored.
func HealthyStatus(now time.Time) HealthStatus {
	return HealthStatus{
		Score:           100,
		Level:           HealthExcellent,
		Issues:          []string{},
		Recommendations: []string{},
		Timestamp:       now,
	}
}
