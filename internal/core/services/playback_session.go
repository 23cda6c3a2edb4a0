package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"playloop/internal/core/domain"
	"playloop/internal/core/ports"
	apperrors "playloop/pkg/errors"
	"playloop/pkg/scheduler"
	"playloop/pkg/tracing"
)

// SessionConfig configures every component of a playback session.
type SessionConfig struct {
	BandwidthTick    time.Duration
	HealthTick       time.Duration
	DecisionInterval time.Duration

	Bandwidth BandwidthConfig
	Health    HealthConfig
	ABR       ABRConfig
	Recovery  RecoveryConfig
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		BandwidthTick:    time.Second,
		HealthTick:       time.Second,
		DecisionInterval: 2 * time.Second,
		Bandwidth:        DefaultBandwidthConfig(),
		Health:           DefaultHealthConfig(),
		ABR:              DefaultABRConfig(),
		Recovery:         DefaultRecoveryConfig(),
	}
}

// SessionDeps are the collaborators of a playback session. Telemetry may be
// nil, in which case the session scores snapshots pushed with PushTelemetry.
// Metrics and Recovery are optional.
type SessionDeps struct {
	Scheduler    scheduler.Scheduler
	Telemetry    ports.TelemetrySource
	Commands     ports.CommandSink
	Metrics      ports.MetricsRecorder
	Recovery     ports.RecoveryActionProvider
	Capabilities domain.Capabilities
	Logger       *zap.SugaredLogger
}

// PlaybackSession runs the adaptive playback control loop for one player:
// bandwidth estimation, health scoring and ABR decisions each on their own
// tick, plus error recovery on demand. All component state lives on the
// session's scheduler; public methods hop onto it.
type PlaybackSession struct {
	id        domain.SessionID
	cfg       SessionConfig
	sched     scheduler.Scheduler
	telemetry ports.TelemetrySource
	commands  ports.CommandSink
	metrics   ports.MetricsRecorder
	actions   ports.RecoveryActionProvider
	logger    *zap.SugaredLogger
	createdAt time.Time

	estimator BandwidthEstimator
	health    *HealthMonitor
	abr       *AdaptiveBitrateService
	recovery  *ErrorRecoveryService

	network  domain.NetworkClass
	pushed   domain.Telemetry
	hasPush  bool
	estimate domain.BandwidthEstimate
	ticks    []scheduler.Timer
	closed   bool
}

func NewPlaybackSession(id domain.SessionID, cfg SessionConfig, deps SessionDeps) *PlaybackSession {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &PlaybackSession{
		id:        id,
		cfg:       cfg,
		sched:     deps.Scheduler,
		telemetry: deps.Telemetry,
		commands:  deps.Commands,
		metrics:   deps.Metrics,
		actions:   deps.Recovery,
		logger:    logger.With("session_id", id),
		createdAt: deps.Scheduler.Now(),
		network:   deps.Capabilities.Network,
	}

	s.estimator = SelectBandwidthEstimator(deps.Capabilities, cfg.Bandwidth, s)
	s.health = NewHealthMonitor(cfg.Health, s.logger, s.createdAt)
	s.abr = NewAdaptiveBitrateService(cfg.ABR, s.sched, s, s.logger)
	s.recovery = NewErrorRecoveryService(cfg.Recovery, s.sched, s, id, s.logger)
	s.estimate = s.estimator.Estimate(s.createdAt)
	return s
}

func (s *PlaybackSession) ID() domain.SessionID {
	return s.id
}

// Start arms the three periodic ticks.
func (s *PlaybackSession) Start() error {
	return s.exec(func() error {
		if len(s.ticks) > 0 {
			return nil
		}
		s.ticks = append(s.ticks,
			s.sched.Every(s.cfg.BandwidthTick, s.bandwidthTick),
			s.sched.Every(s.cfg.HealthTick, s.healthTick),
			s.sched.Every(s.cfg.DecisionInterval, s.decisionTick),
		)
		if s.metrics != nil {
			s.metrics.SessionOpened(s.id)
		}
		s.logger.Infow("playback session started",
			"observed_bandwidth", s.estimate.Source == domain.SourceObserved,
			"ladder_size", s.abr.Ladder().Len(),
		)
		return nil
	})
}

// PushTelemetry stores the latest snapshot reported by a remote engine.
func (s *PlaybackSession) PushTelemetry(t domain.Telemetry) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return s.post(func() {
		s.pushed = t
		s.hasPush = true
	})
}

// ObserveTransfer feeds a completed fetch to the bandwidth estimator.
func (s *PlaybackSession) ObserveTransfer(obs domain.TransferObservation) error {
	return s.post(func() {
		if obs.Timestamp.IsZero() {
			obs.Timestamp = s.sched.Now()
		}
		s.estimator.Observe(obs)
	})
}

// UpdateNetworkClass replaces the network class used by the static
// estimator.
func (s *PlaybackSession) UpdateNetworkClass(nc domain.NetworkClass) error {
	return s.post(func() {
		s.network = nc
	})
}

// NetworkClass implements ports.NetworkClassProvider for the static
// estimator. It is only called on the loop.
func (s *PlaybackSession) NetworkClass() domain.NetworkClass {
	return s.network
}

// SetLadder installs the ladder of a newly loaded manifest.
func (s *PlaybackSession) SetLadder(qualities []domain.StreamQuality) error {
	ladder, err := domain.NewLadder(qualities)
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "invalid quality ladder", http.StatusBadRequest)
	}
	return s.exec(func() error {
		s.abr.SetLadder(ladder)
		s.logger.Infow("quality ladder loaded", "rungs", ladder.Len())
		return nil
	})
}

func (s *PlaybackSession) SetManualQuality(id string) error {
	return s.exec(func() error {
		if err := s.abr.SetManualQuality(id); err != nil {
			return apperrors.WrapError(err, apperrors.ErrCodeNotFound, fmt.Sprintf("quality %q not found", id), http.StatusNotFound)
		}
		return nil
	})
}

// ReportError records a playback failure and requests a recovery attempt
// with the session's recovery action.
func (s *PlaybackSession) ReportError(ctx context.Context, description string) error {
	var action ports.RecoveryAction
	if s.actions != nil {
		action = s.actions.RecoveryAction(s.id, description)
	} else {
		action = func(context.Context) error { return nil }
	}
	return s.RecoverWith(ctx, description, action)
}

// RecoverWith records a playback failure and schedules action as the
// recovery attempt. Rejections are returned synchronously.
func (s *PlaybackSession) RecoverWith(ctx context.Context, description string, action ports.RecoveryAction) error {
	return s.exec(func() error {
		s.recovery.RecordError(description)
		err := s.recovery.AttemptRecovery(context.WithoutCancel(ctx), action)
		if err != nil && s.metrics != nil {
			s.metrics.RecordRecoveryAttempt(s.id, OutcomeRejected)
		}
		return err
	})
}

func (s *PlaybackSession) ResetRecovery() error {
	return s.exec(func() error {
		s.recovery.Reset()
		return nil
	})
}

// Snapshot returns the state of every component as of one loop turn.
func (s *PlaybackSession) Snapshot() (domain.SessionSnapshot, error) {
	var snap domain.SessionSnapshot
	err := s.exec(func() error {
		snap = domain.SessionSnapshot{
			ID:        s.id,
			Bandwidth: s.estimate,
			Health:    s.health.Status(),
			ABR:       s.abr.State(),
			Recovery:  s.recovery.State(),
			Ladder:    s.abr.Ladder().Rungs(),
			CreatedAt: s.createdAt,
		}
		return nil
	})
	return snap, err
}

// Close cancels every timer of the session and discards its state. Further
// calls fail with a SESSION_CLOSED error.
func (s *PlaybackSession) Close() error {
	return s.exec(func() error {
		for _, t := range s.ticks {
			t.Stop()
		}
		s.ticks = nil
		s.abr.Stop()
		s.recovery.ForceStop()
		s.estimator.Reset()
		s.closed = true
		if s.metrics != nil {
			s.metrics.SessionClosed(s.id)
		}
		s.logger.Infow("playback session closed")
		return nil
	})
}

func (s *PlaybackSession) bandwidthTick() {
	s.estimate = s.estimator.Estimate(s.sched.Now())
	if s.metrics != nil {
		s.metrics.ObserveBandwidth(s.id, s.estimate)
	}
}

func (s *PlaybackSession) healthTick() {
	t, ok := s.currentTelemetry()
	if !ok {
		return
	}
	status, stalled := s.health.Update(t, s.sched.Now())
	if s.metrics != nil {
		if stalled {
			s.metrics.RecordStall(s.id)
		}
		s.metrics.ObserveHealth(s.id, status)
	}
}

func (s *PlaybackSession) decisionTick() {
	status := s.health.Status()
	s.abr.Tick(ABRInputs{
		Bandwidth:   s.estimate,
		HealthScore: status.Score,
		BufferLevel: status.BufferLevel,
	})
}

func (s *PlaybackSession) currentTelemetry() (domain.Telemetry, bool) {
	if s.telemetry != nil {
		return s.telemetry.Telemetry()
	}
	return s.pushed, s.hasPush
}

// OnQualitySwitch implements QualitySwitchListener.
func (s *PlaybackSession) OnQualitySwitch(from *domain.StreamQuality, to domain.StreamQuality, reason string) {
	fromID := ""
	if from != nil {
		fromID = from.ID
	}
	s.deliver(domain.Command{
		Type:         domain.CommandSelectQuality,
		QualityID:    to.ID,
		BandwidthBps: to.BandwidthBps,
		Reason:       reason,
	})
	if s.metrics != nil {
		s.metrics.RecordQualitySwitch(s.id, reason)
	}
	tracing.TraceQualitySwitch(context.Background(), string(s.id), fromID, to.ID, reason)
}

// OnAutoQuality implements QualitySwitchListener.
func (s *PlaybackSession) OnAutoQuality() {
	s.deliver(domain.Command{
		Type:      domain.CommandSelectQuality,
		QualityID: domain.AutoQualityID,
		Reason:    ReasonAuto,
	})
}

// OnRecovered implements RecoveryListener. A completed recovery cycle starts
// health tracking afresh.
func (s *PlaybackSession) OnRecovered() {
	s.health.Reset(s.sched.Now())
	if s.metrics != nil {
		s.metrics.RecordRecoveryAttempt(s.id, OutcomeRecovered)
	}
}

// OnRecoveryFailed implements RecoveryListener.
func (s *PlaybackSession) OnRecoveryFailed(outcome string, err error) {
	if s.metrics != nil {
		s.metrics.RecordRecoveryAttempt(s.id, outcome)
	}
	s.logger.Warnw("recovery attempt unsuccessful",
		"outcome", outcome,
		"error", err,
		"can_retry", s.recovery.CanRetry(),
	)
}

func (s *PlaybackSession) deliver(cmd domain.Command) {
	if s.commands == nil {
		return
	}
	cmd.SessionID = s.id
	cmd.Timestamp = s.sched.Now()
	s.commands.Deliver(cmd)
}

func (s *PlaybackSession) exec(fn func() error) error {
	var err error
	if doErr := s.sched.Do(func() {
		if s.closed {
			err = apperrors.NewSessionClosedError(domain.ErrSessionClosed)
			return
		}
		err = fn()
	}); doErr != nil {
		return apperrors.NewSessionClosedError(fmt.Errorf("%w: %v", domain.ErrSessionClosed, doErr))
	}
	return err
}

func (s *PlaybackSession) post(fn func()) error {
	if !s.sched.Post(func() {
		if !s.closed {
			fn()
		}
	}) {
		return apperrors.NewSessionClosedError(domain.ErrSessionClosed)
	}
	return nil
}
