package services

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"playloop/internal/core/domain"
	"playloop/internal/core/ports"
	apperrors "playloop/pkg/errors"
	"playloop/pkg/retry"
	"playloop/pkg/scheduler"
	"playloop/pkg/tracing"
)

type RecoveryConfig struct {
	MaxRetries    uint32
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	GlobalTimeout time.Duration
	Jitter        float64
	Rand          func() float64 // nil uses math/rand
}

func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		MaxRetries:    5,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		GlobalTimeout: 30 * time.Second,
		Jitter:        0.25,
	}
}

func (c RecoveryConfig) backoff() retry.Config {
	return retry.Config{
		Enabled:      true,
		MaxAttempts:  int(c.MaxRetries),
		InitialDelay: c.BaseDelay,
		MaxDelay:     c.MaxDelay,
		Multiplier:   2.0,
		Jitter:       c.Jitter,
		Rand:         c.Rand,
	}
}

// Recovery outcomes passed to listeners and metrics.
const (
	OutcomeRecovered = "recovered"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
	OutcomeRejected  = "rejected"
)

// RecoveryListener observes the resolution of recovery attempts. Calls
// happen on the session loop.
type RecoveryListener interface {
	OnRecovered()
	OnRecoveryFailed(outcome string, err error)
}

// ErrorRecoveryService is a bounded-retry controller with exponential
// backoff, jitter and a deadline per recovery episode. It never chains
// retries itself; each attempt is requested by the caller. It is confined
// to the session loop.
type ErrorRecoveryService struct {
	cfg       RecoveryConfig
	sched     scheduler.Scheduler
	listener  RecoveryListener
	logger    *zap.SugaredLogger
	sessionID domain.SessionID

	state domain.ErrorState

	// generation invalidates callbacks of attempts that were superseded by
	// a reset, a stop or a timeout.
	generation   uint64
	retryTimer   scheduler.Timer
	guardTimer   scheduler.Timer
	cancelAction context.CancelFunc
	span         trace.Span
}

func NewErrorRecoveryService(
	cfg RecoveryConfig,
	sched scheduler.Scheduler,
	listener RecoveryListener,
	sessionID domain.SessionID,
	logger *zap.SugaredLogger,
) *ErrorRecoveryService {
	return &ErrorRecoveryService{
		cfg:       cfg,
		sched:     sched,
		listener:  listener,
		sessionID: sessionID,
		logger:    logger,
	}
}

// RecordError counts a failure and computes the delay before the next
// attempt: min(base*2^errorCount, max) with uniform jitter.
func (r *ErrorRecoveryService) RecordError(description string) {
	r.state.ErrorCount++
	r.state.LastError = description
	r.state.NextRetryDelay = retry.Delay(r.cfg.backoff(), int(r.state.ErrorCount))
	if r.state.RecoveryStartTime.IsZero() {
		r.state.RecoveryStartTime = r.sched.Now()
	}

	r.logger.Infow("playback error recorded",
		"session_id", r.sessionID,
		"error", description,
		"error_count", r.state.ErrorCount,
		"next_retry_delay", r.state.NextRetryDelay,
	)
}

// CanRetry reports whether another attempt is allowed by the retry budget.
func (r *ErrorRecoveryService) CanRetry() bool {
	return r.state.ErrorCount < r.cfg.MaxRetries
}

// AttemptRecovery schedules action after the current retry delay. It fails
// immediately when the retry budget or the episode deadline is spent, or
// when an attempt is already pending. The outcome is reported to the
// listener.
func (r *ErrorRecoveryService) AttemptRecovery(ctx context.Context, action ports.RecoveryAction) error {
	now := r.sched.Now()

	if !r.CanRetry() {
		r.logger.Warnw("recovery retries exhausted",
			"session_id", r.sessionID,
			"error_count", r.state.ErrorCount,
			"max_retries", r.cfg.MaxRetries,
		)
		return apperrors.NewRetriesExhaustedError(domain.ErrRetriesExhausted, r.state.ErrorCount, r.cfg.MaxRetries)
	}
	if r.state.InEpisode() {
		if elapsed := now.Sub(r.state.RecoveryStartTime); elapsed > r.cfg.GlobalTimeout {
			r.logger.Warnw("recovery episode deadline passed",
				"session_id", r.sessionID,
				"elapsed", elapsed,
			)
			return apperrors.NewRecoveryTimeoutError(domain.ErrRecoveryTimeout, elapsed.Milliseconds())
		}
	}
	if r.state.IsRecovering {
		return apperrors.NewRecoveryInProgressError(domain.ErrRecoveryInProgress)
	}

	if !r.state.InEpisode() {
		r.state.RecoveryStartTime = now
	}
	r.state.IsRecovering = true
	r.generation++
	gen := r.generation

	delay := r.state.NextRetryDelay
	attemptCtx, span := tracing.TraceRecoveryAttempt(ctx, string(r.sessionID), r.state.ErrorCount, delay.Milliseconds())
	r.span = span

	deadline := r.state.RecoveryStartTime.Add(r.cfg.GlobalTimeout)
	r.guardTimer = r.sched.AfterFunc(deadline.Sub(now), func() {
		r.timeout(gen)
	})
	r.retryTimer = r.sched.AfterFunc(delay, func() {
		r.run(attemptCtx, gen, action)
	})

	r.logger.Infow("recovery scheduled",
		"session_id", r.sessionID,
		"attempt", r.state.ErrorCount,
		"delay", delay,
		"deadline", deadline,
	)
	return nil
}

func (r *ErrorRecoveryService) run(ctx context.Context, gen uint64, action ports.RecoveryAction) {
	if gen != r.generation {
		return
	}
	r.retryTimer = nil

	actionCtx, cancel := context.WithCancel(ctx)
	r.cancelAction = cancel
	r.sched.Async(func() error {
		return action(actionCtx)
	}, func(err error) {
		cancel()
		r.resolve(gen, err)
	})
}

func (r *ErrorRecoveryService) resolve(gen uint64, err error) {
	if gen != r.generation || !r.state.IsRecovering {
		return
	}

	if err == nil {
		r.logger.Infow("recovery succeeded",
			"session_id", r.sessionID,
			"attempts", r.state.ErrorCount,
		)
		r.endSpan(nil, OutcomeRecovered)
		r.clear()
		r.state = domain.ErrorState{}
		r.listener.OnRecovered()
		return
	}

	r.logger.Warnw("recovery attempt failed",
		"session_id", r.sessionID,
		"attempt", r.state.ErrorCount,
		"error", err,
	)
	r.endSpan(err, OutcomeFailed)
	r.clear()
	r.state.LastError = err.Error()
	r.state.IsRecovering = false
	r.listener.OnRecoveryFailed(OutcomeFailed, apperrors.NewRecoveryFailedError(err))
}

func (r *ErrorRecoveryService) timeout(gen uint64) {
	if gen != r.generation || !r.state.IsRecovering {
		return
	}
	elapsed := r.sched.Now().Sub(r.state.RecoveryStartTime)
	err := apperrors.NewRecoveryTimeoutError(domain.ErrRecoveryTimeout, elapsed.Milliseconds())

	r.logger.Warnw("recovery episode timed out",
		"session_id", r.sessionID,
		"elapsed", elapsed,
		"error_count", r.state.ErrorCount,
	)
	r.endSpan(err, OutcomeTimeout)
	r.clear()
	r.generation++
	r.state.LastError = fmt.Sprintf("recovery timed out after %s", elapsed)
	r.state.IsRecovering = false
	r.listener.OnRecoveryFailed(OutcomeTimeout, err)
}

// Reset cancels pending work and zeroes every counter.
func (r *ErrorRecoveryService) Reset() {
	r.ForceStop()
	r.state = domain.ErrorState{}
}

// ForceStop cancels pending work but keeps the error history.
func (r *ErrorRecoveryService) ForceStop() {
	if r.state.IsRecovering {
		r.endSpan(context.Canceled, "stopped")
	}
	r.clear()
	r.generation++
	r.state.IsRecovering = false
}

// State returns a copy of the recovery bookkeeping.
func (r *ErrorRecoveryService) State() domain.ErrorState {
	return r.state
}

func (r *ErrorRecoveryService) clear() {
	if r.retryTimer != nil {
		r.retryTimer.Stop()
		r.retryTimer = nil
	}
	if r.guardTimer != nil {
		r.guardTimer.Stop()
		r.guardTimer = nil
	}
	if r.cancelAction != nil {
		r.cancelAction()
		r.cancelAction = nil
	}
}

func (r *ErrorRecoveryService) endSpan(err error, outcome string) {
	if r.span == nil {
		return
	}
	r.span.SetAttributes(attribute.String("recovery.outcome", outcome))
	if err != nil {
		r.span.RecordError(err)
	}
	r.span.End()
	r.span = nil
}
