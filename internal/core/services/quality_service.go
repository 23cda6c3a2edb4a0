package services

import (
	"time"

	"playloop/internal/core/domain"
)

type ABRConfig struct {
	MinSwitchInterval  time.Duration
	SwitchThreshold    time.Duration // settle delay before an accepted switch commits
	BufferTargetDown   time.Duration
	BufferTargetUp     time.Duration
	UpgradeStableTicks int
	UpgradeMinHealth   int
	LowHealthScore     int
	DowngradeMargin    float64
}

func DefaultABRConfig() ABRConfig {
	return ABRConfig{
		MinSwitchInterval:  10 * time.Second,
		SwitchThreshold:    3 * time.Second,
		BufferTargetDown:   2 * time.Second,
		BufferTargetUp:     8 * time.Second,
		UpgradeStableTicks: 2,
		UpgradeMinHealth:   70,
		LowHealthScore:     50,
		DowngradeMargin:    1.2,
	}
}

// ABRInputs is what one decision tick reads.
type ABRInputs struct {
	Bandwidth   domain.BandwidthEstimate
	HealthScore int
	BufferLevel float64 // seconds
}

// Switch reasons.
const (
	ReasonInitialization = "initialization"
	ReasonBufferCritical = "buffer critical"
	ReasonHealthLow      = "health low"
	ReasonUpgrade        = "bandwidth upgrade"
	ReasonDowngrade      = "bandwidth downgrade"
	ReasonManual         = "manual"
	ReasonAuto           = "auto"

	rejectMinInterval   = "min interval"
	rejectNoChange      = "no change"
	rejectUpgradeNotMet = "upgrade conditions not met"
	rejectNotRequired   = "downgrade not required"
)

// SwitchDecision is the outcome of the switch gate. Immediate decisions skip
// the settle delay.
type SwitchDecision struct {
	Accept    bool
	Immediate bool
	Downgrade bool
	Reason    string
}

// GateState is the switch history the gate depends on.
type GateState struct {
	Now          time.Time
	LastSwitchAt time.Time
	HasSwitched  bool
	StableTicks  int
}

// QualityService holds the stateless rules of rendition selection.
type QualityService struct {
	cfg ABRConfig
}

func NewQualityService(cfg ABRConfig) *QualityService {
	return &QualityService{cfg: cfg}
}

// SafetyFactor discounts measured bandwidth by playback health.
func (qs *QualityService) SafetyFactor(healthScore int) float64 {
	switch {
	case healthScore >= 80:
		return 0.9
	case healthScore >= 60:
		return 0.75
	default:
		return 0.6
	}
}

// TargetBps is the bandwidth budget a rendition must fit in.
func (qs *QualityService) TargetBps(in ABRInputs) float64 {
	safe := in.Bandwidth.AverageMbps * 1_000_000 * qs.SafetyFactor(in.HealthScore)

	switch {
	case in.BufferLevel < qs.cfg.BufferTargetDown.Seconds():
		return safe * 0.7
	case in.BufferLevel < qs.cfg.BufferTargetUp.Seconds():
		return safe * 0.85
	default:
		return safe
	}
}

// DetermineOptimalQuality picks the best affordable rung of a non-empty ladder.
func (qs *QualityService) DetermineOptimalQuality(ladder domain.Ladder, in ABRInputs) domain.StreamQuality {
	return ladder.Select(qs.TargetBps(in))
}

// ShouldSwitch gates a move from current to candidate.
func (qs *QualityService) ShouldSwitch(candidate domain.StreamQuality, current *domain.StreamQuality, in ABRInputs, gate GateState) SwitchDecision {
	if gate.HasSwitched && gate.Now.Sub(gate.LastSwitchAt) < qs.cfg.MinSwitchInterval {
		return SwitchDecision{Reason: rejectMinInterval}
	}
	if current == nil {
		return SwitchDecision{Accept: true, Immediate: true, Reason: ReasonInitialization}
	}
	if candidate.BandwidthBps == current.BandwidthBps {
		return SwitchDecision{Reason: rejectNoChange}
	}

	if candidate.BandwidthBps > current.BandwidthBps {
		if qs.ShouldUpgrade(in, gate.StableTicks) {
			return SwitchDecision{Accept: true, Reason: ReasonUpgrade}
		}
		return SwitchDecision{Reason: rejectUpgradeNotMet}
	}

	if in.BufferLevel < qs.cfg.BufferTargetDown.Seconds() {
		return SwitchDecision{Accept: true, Immediate: true, Downgrade: true, Reason: ReasonBufferCritical}
	}
	if in.HealthScore < qs.cfg.LowHealthScore {
		return SwitchDecision{Accept: true, Downgrade: true, Reason: ReasonHealthLow}
	}
	if qs.ShouldDowngrade(*current, in) {
		return SwitchDecision{Accept: true, Downgrade: true, Reason: ReasonDowngrade}
	}
	return SwitchDecision{Reason: rejectNotRequired}
}

// ShouldUpgrade requires a full buffer, good health and enough quiet ticks.
func (qs *QualityService) ShouldUpgrade(in ABRInputs, stableTicks int) bool {
	return in.BufferLevel >= qs.cfg.BufferTargetUp.Seconds() &&
		in.HealthScore >= qs.cfg.UpgradeMinHealth &&
		stableTicks >= qs.cfg.UpgradeStableTicks
}

// ShouldDowngrade reports whether the current rung is no longer affordable
// within the safety margin.
func (qs *QualityService) ShouldDowngrade(current domain.StreamQuality, in ABRInputs) bool {
	return float64(current.BandwidthBps) > in.Bandwidth.AverageMbps*1_000_000*qs.cfg.DowngradeMargin
}
