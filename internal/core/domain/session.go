package domain

import "time"

type SessionID string

type CommandType string

const (
	CommandSelectQuality CommandType = "select_quality"
	CommandRecover       CommandType = "recover"
)

// Command is an instruction for the media engine. QualityID is a ladder id
// or AutoQualityID for select_quality, with BandwidthBps set for ladder ids;
// AttemptID correlates a recover command with the engine's result.
type Command struct {
	Type         CommandType `json:"type"`
	SessionID    SessionID   `json:"session_id"`
	QualityID    string      `json:"quality_id,omitempty"`
	BandwidthBps int64       `json:"bandwidth_bps,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	AttemptID    string      `json:"attempt_id,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// SessionSnapshot is a consistent view of every component of a session.
type SessionSnapshot struct {
	ID        SessionID         `json:"id"`
	Bandwidth BandwidthEstimate `json:"bandwidth"`
	Health    HealthStatus      `json:"health"`
	ABR       ABRState          `json:"abr"`
	Recovery  ErrorState        `json:"recovery"`
	Ladder    []StreamQuality   `json:"ladder"`
	CreatedAt time.Time         `json:"created_at"`
}
