package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"playloop/internal/core/domain"
	"playloop/internal/core/ports"
	"playloop/pkg/scheduler"
)

// SchedulerFactory returns a fresh scheduler for one session and the func
// that releases it once the session is closed.
type SchedulerFactory func() (scheduler.Scheduler, func())

// LoopSchedulers gives every session its own event loop goroutine.
func LoopSchedulers(queueSize int) SchedulerFactory {
	return func() (scheduler.Scheduler, func()) {
		loop := scheduler.NewLoop(queueSize)
		loop.Start()
		return loop, loop.Close
	}
}

type sessionService struct {
	repo         ports.SessionRepository
	auth         AuthService
	cfg          SessionConfig
	commands     ports.CommandSink
	metrics      ports.MetricsRecorder
	actions      ports.RecoveryActionProvider
	newScheduler SchedulerFactory
	logger       *zap.SugaredLogger
}

func NewSessionService(
	repo ports.SessionRepository,
	auth AuthService,
	cfg SessionConfig,
	commands ports.CommandSink,
	metrics ports.MetricsRecorder,
	actions ports.RecoveryActionProvider,
	newScheduler SchedulerFactory,
	logger *zap.SugaredLogger,
) ports.SessionService {
	return &sessionService{
		repo:         repo,
		auth:         auth,
		cfg:          cfg,
		commands:     commands,
		metrics:      metrics,
		actions:      actions,
		newScheduler: newScheduler,
		logger:       logger,
	}
}

// managedSession releases the session's scheduler after closing it.
type managedSession struct {
	*PlaybackSession
	release func()
}

func (m *managedSession) Close() error {
	err := m.PlaybackSession.Close()
	if err == nil {
		m.release()
	}
	return err
}

func (s *sessionService) CreateSession(ctx context.Context, ladder []domain.StreamQuality, caps domain.Capabilities) (*ports.CreatedSession, error) {
	id := domain.SessionID(uuid.NewString())
	sched, release := s.newScheduler()

	session := NewPlaybackSession(id, s.cfg, SessionDeps{
		Scheduler:    sched,
		Commands:     s.commands,
		Metrics:      s.metrics,
		Recovery:     s.actions,
		Capabilities: caps,
		Logger:       s.logger,
	})
	managed := &managedSession{PlaybackSession: session, release: release}

	if len(ladder) > 0 {
		if err := session.SetLadder(ladder); err != nil {
			release()
			return nil, err
		}
	}

	token, err := s.auth.GenerateToken(id)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	if err := session.Start(); err != nil {
		release()
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	if err := s.repo.Add(ctx, managed); err != nil {
		_ = managed.Close()
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	s.logger.Infow("playback session created",
		"session_id", id,
		"ladder_size", len(ladder),
		"transfer_observation", caps.TransferObservation,
	)
	return &ports.CreatedSession{Session: managed, Token: token}, nil
}

func (s *sessionService) GetSession(ctx context.Context, id domain.SessionID) (ports.PlaybackSession, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *sessionService) CloseSession(ctx context.Context, id domain.SessionID) error {
	session, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Remove(ctx, id); err != nil {
		return err
	}
	if err := session.Close(); err != nil && !errors.Is(err, domain.ErrSessionClosed) {
		return fmt.Errorf("failed to close session %s: %w", id, err)
	}
	return nil
}

func (s *sessionService) ActiveSessions(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

// CloseAll closes every stored session, continuing past failures.
func (s *sessionService) CloseAll(ctx context.Context) error {
	sessions, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, session := range sessions {
		if err := s.CloseSession(ctx, session.ID()); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		s.logger.Warnw("some sessions failed to close", "failed", len(errs))
	}
	return errors.Join(errs...)
}
