package ports

import (
	"context"

	"playloop/internal/core/domain"
)

// TelemetrySource is polled on the health tick. ok is false until the media
// engine has produced a snapshot.
type TelemetrySource interface {
	Telemetry() (t domain.Telemetry, ok bool)
}

// CommandSink receives commands for the media engine. Deliver is called on
// the session loop and must not block.
type CommandSink interface {
	Deliver(cmd domain.Command)
}

// NetworkClassProvider supplies the coarse connection class for static
// bandwidth estimation.
type NetworkClassProvider interface {
	NetworkClass() domain.NetworkClass
}

// RecoveryAction restores playback, e.g. by reloading the current source.
// It runs off the session loop and must return when ctx is done.
type RecoveryAction func(ctx context.Context) error

// RecoveryActionProvider builds the recovery action for a session whose
// media engine is remote.
type RecoveryActionProvider interface {
	RecoveryAction(sessionID domain.SessionID, reason string) RecoveryAction
}

// MetricsRecorder receives control-loop observations. Implementations must
// be safe for concurrent use by many sessions.
type MetricsRecorder interface {
	ObserveBandwidth(sessionID domain.SessionID, est domain.BandwidthEstimate)
	ObserveHealth(sessionID domain.SessionID, status domain.HealthStatus)
	RecordStall(sessionID domain.SessionID)
	RecordQualitySwitch(sessionID domain.SessionID, reason string)
	RecordRecoveryAttempt(sessionID domain.SessionID, outcome string)
	SessionOpened(sessionID domain.SessionID)
	SessionClosed(sessionID domain.SessionID)
}

// PlaybackSession is the control loop of one playback session. All methods
// are safe for concurrent use; work is executed on the session's loop.
type PlaybackSession interface {
	ID() domain.SessionID
	PushTelemetry(t domain.Telemetry) error
	ObserveTransfer(obs domain.TransferObservation) error
	UpdateNetworkClass(nc domain.NetworkClass) error
	SetLadder(qualities []domain.StreamQuality) error
	SetManualQuality(id string) error
	ReportError(ctx context.Context, description string) error
	ResetRecovery() error
	Snapshot() (domain.SessionSnapshot, error)
	Close() error
}

// CreatedSession is a newly started session and the bearer token that
// grants access to it.
type CreatedSession struct {
	Session PlaybackSession
	Token   string
}

type SessionService interface {
	CreateSession(ctx context.Context, ladder []domain.StreamQuality, caps domain.Capabilities) (*CreatedSession, error)
	GetSession(ctx context.Context, id domain.SessionID) (PlaybackSession, error)
	CloseSession(ctx context.Context, id domain.SessionID) error
	ActiveSessions(ctx context.Context) (int, error)
	CloseAll(ctx context.Context) error
}
