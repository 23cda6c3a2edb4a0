package services

import (
	"go.uber.org/zap"

	"playloop/internal/core/domain"
	"playloop/pkg/scheduler"
)

// QualitySwitchListener is told about committed switches and about the
// return to automatic selection. Calls happen on the session loop.
type QualitySwitchListener interface {
	OnQualitySwitch(from *domain.StreamQuality, to domain.StreamQuality, reason string)
	OnAutoQuality()
}

// AdaptiveBitrateService picks renditions from the ladder each decision
// tick. Accepted switches settle for SwitchThreshold before they commit,
// except initialization and buffer-critical downgrades which commit at once.
// It is confined to the session loop.
type AdaptiveBitrateService struct {
	cfg      ABRConfig
	quality  *QualityService
	sched    scheduler.Scheduler
	listener QualitySwitchListener
	logger   *zap.SugaredLogger

	ladder       domain.Ladder
	state        domain.ABRState
	hasSwitched  bool
	stableTicks  int
	settle       scheduler.Timer
	settleReason string
}

func NewAdaptiveBitrateService(
	cfg ABRConfig,
	sched scheduler.Scheduler,
	listener QualitySwitchListener,
	logger *zap.SugaredLogger,
) *AdaptiveBitrateService {
	return &AdaptiveBitrateService{
		cfg:      cfg,
		quality:  NewQualityService(cfg),
		sched:    sched,
		listener: listener,
		logger:   logger,
	}
}

// SetLadder replaces the quality ladder. A pending switch is dropped, and if
// the current rendition is not in the new ladder the next tick initializes
// again.
func (a *AdaptiveBitrateService) SetLadder(ladder domain.Ladder) {
	a.cancelSettle("ladder replaced")
	a.ladder = ladder

	if cur := a.state.CurrentQuality; cur != nil {
		if q, ok := ladder.Find(cur.ID); ok {
			a.state.CurrentQuality = &q
		} else {
			a.state.CurrentQuality = nil
			a.state.Manual = false
		}
	}
}

func (a *AdaptiveBitrateService) Ladder() domain.Ladder {
	return a.ladder
}

// Tick runs one decision. It never fails; unclear conditions keep the
// current rendition.
func (a *AdaptiveBitrateService) Tick(in ABRInputs) {
	if a.ladder.Empty() || a.state.Manual {
		return
	}

	candidate := a.quality.DetermineOptimalQuality(a.ladder, in)

	if a.state.IsAdapting {
		if a.state.TargetQuality.ID == candidate.ID {
			return
		}
		a.cancelSettle("candidate changed")
	}

	now := a.sched.Now()
	decision := a.quality.ShouldSwitch(candidate, a.state.CurrentQuality, in, GateState{
		Now:          now,
		LastSwitchAt: a.state.LastSwitchAt,
		HasSwitched:  a.hasSwitched,
		StableTicks:  a.stableTicks,
	})

	if !decision.Accept {
		a.stableTicks++
		a.logger.Debugw("quality switch rejected",
			"candidate", candidate.ID,
			"reason", decision.Reason,
			"average_mbps", in.Bandwidth.AverageMbps,
			"health_score", in.HealthScore,
			"buffer_level", in.BufferLevel,
		)
		return
	}

	if decision.Downgrade {
		a.stableTicks = 0
	}
	if decision.Immediate {
		a.commit(candidate, decision.Reason)
		return
	}

	target := candidate
	a.state.IsAdapting = true
	a.state.TargetQuality = &target
	a.settleReason = decision.Reason
	a.settle = a.sched.AfterFunc(a.cfg.SwitchThreshold, func() {
		if !a.state.IsAdapting || a.state.TargetQuality.ID != target.ID {
			return
		}
		a.commit(target, a.settleReason)
	})
}

// SetManualQuality pins a rendition, bypassing the decision algorithm.
// domain.AutoQualityID releases the pin.
func (a *AdaptiveBitrateService) SetManualQuality(id string) error {
	if id == domain.AutoQualityID {
		a.state.Manual = false
		a.state.Reason = ReasonAuto
		a.stableTicks = 0
		a.logger.Infow("automatic quality selection enabled")
		a.listener.OnAutoQuality()
		return nil
	}

	q, ok := a.ladder.Find(id)
	if !ok {
		return domain.ErrQualityNotFound
	}
	a.cancelSettle("manual override")
	a.state.Manual = true
	a.commit(q, ReasonManual)
	return nil
}

// State returns a copy of the adaptation state.
func (a *AdaptiveBitrateService) State() domain.ABRState {
	s := a.state
	if s.CurrentQuality != nil {
		q := *s.CurrentQuality
		s.CurrentQuality = &q
	}
	if s.TargetQuality != nil {
		q := *s.TargetQuality
		s.TargetQuality = &q
	}
	return s
}

// Stop cancels a pending settle timer.
func (a *AdaptiveBitrateService) Stop() {
	a.cancelSettle("stopped")
}

func (a *AdaptiveBitrateService) commit(q domain.StreamQuality, reason string) {
	from := a.state.CurrentQuality
	to := q

	a.settle = nil
	a.state.CurrentQuality = &to
	a.state.TargetQuality = nil
	a.state.IsAdapting = false
	a.state.Reason = reason
	a.state.SwitchCount++
	a.state.LastSwitchAt = a.sched.Now()
	a.hasSwitched = true
	a.stableTicks = 0

	fromID := ""
	if from != nil {
		fromID = from.ID
	}
	a.logger.Infow("quality switch committed",
		"from", fromID,
		"to", to.ID,
		"reason", reason,
		"switch_count", a.state.SwitchCount,
	)
	a.listener.OnQualitySwitch(from, to, reason)
}

func (a *AdaptiveBitrateService) cancelSettle(why string) {
	if !a.state.IsAdapting {
		return
	}
	if a.settle != nil {
		a.settle.Stop()
		a.settle = nil
	}
	a.logger.Debugw("pending quality switch cancelled",
		"target", a.state.TargetQuality.ID,
		"reason", why,
	)
	a.state.IsAdapting = false
	a.state.TargetQuality = nil
	a.settleReason = ""
}
