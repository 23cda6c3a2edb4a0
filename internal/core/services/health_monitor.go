package services

import (
	"time"

	"go.uber.org/zap"

	"playloop/internal/core/domain"
)

type HealthConfig struct {
	StallThreshold      time.Duration
	CriticalBufferLevel time.Duration
	WarningBufferLevel  time.Duration
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		StallThreshold:      2 * time.Second,
		CriticalBufferLevel: time.Second,
		WarningBufferLevel:  3 * time.Second,
	}
}

// HealthInputs are the values a health score is derived from.
type HealthInputs struct {
	BufferLevel      float64 // seconds
	DroppedFrameRate float64 // percent
	StallCount       uint32
	BufferingRatio   float64
	Stalled          bool
}

const (
	issueCriticalBuffer = "critical buffer level"
	issueLowBuffer      = "low buffer level"
	issueHighDrops      = "high frame drop rate"
	issueElevatedDrops  = "elevated frame drops"
	issueFrequentStalls = "frequent stalls"
	issueStalled        = "playback stalled"

	recReduceQuality    = "reduce quality"
	recGrowBuffer       = "allow buffer to grow before upgrading"
	recReduceResolution = "reduce resolution"
	recWatchDecoder     = "check decoder load"
	recCapBitrate       = "cap bitrate"
	recReloadStream     = "reload stream"
)

// ScoreHealth starts from 100, applies independent deductions and clamps to
// [0, 100]. Issues are ordered buffer, frame drops, stall count, active stall.
func ScoreHealth(in HealthInputs, cfg HealthConfig) domain.HealthStatus {
	score := 100
	issues := []string{}
	recs := []string{}

	critical := cfg.CriticalBufferLevel.Seconds()
	warning := cfg.WarningBufferLevel.Seconds()

	switch {
	case in.BufferLevel < 0.5:
		score -= 40
	case in.BufferLevel < critical:
		score -= 25
	case in.BufferLevel < warning:
		score -= 15
	case in.BufferLevel < 5:
		score -= 5
	}
	switch {
	case in.BufferLevel < critical:
		issues = append(issues, issueCriticalBuffer)
		recs = append(recs, recReduceQuality)
	case in.BufferLevel < warning:
		issues = append(issues, issueLowBuffer)
		recs = append(recs, recGrowBuffer)
	}

	switch {
	case in.DroppedFrameRate > 5:
		score -= 30
		issues = append(issues, issueHighDrops)
		recs = append(recs, recReduceResolution)
	case in.DroppedFrameRate > 2:
		score -= 15
		issues = append(issues, issueElevatedDrops)
		recs = append(recs, recWatchDecoder)
	case in.DroppedFrameRate > 0.5:
		score -= 5
	}

	switch {
	case in.StallCount > 8:
		score -= 20
	case in.StallCount > 4:
		score -= 10
	case in.StallCount > 1:
		score -= 5
	}
	if in.StallCount > 4 {
		issues = append(issues, issueFrequentStalls)
		recs = append(recs, recCapBitrate)
	}

	switch {
	case in.BufferingRatio > 0.3:
		score -= 10
	case in.BufferingRatio > 0.15:
		score -= 5
	}

	if in.Stalled {
		issues = append(issues, issueStalled)
		recs = append(recs, recReloadStream)
	}

	score = max(0, min(100, score))

	return domain.HealthStatus{
		Score:            score,
		Level:            domain.LevelForScore(score),
		Issues:           issues,
		Recommendations:  recs,
		StallCount:       in.StallCount,
		BufferLevel:      in.BufferLevel,
		DroppedFrameRate: in.DroppedFrameRate,
		Stalled:          in.Stalled,
	}
}

// HealthMonitor tracks stalls and buffering over a session and scores each
// telemetry snapshot. It is confined to the session loop.
type HealthMonitor struct {
	cfg    HealthConfig
	logger *zap.SugaredLogger

	startedAt      time.Time
	primed         bool
	lastTickAt     time.Time
	lastPosition   float64
	lastProgressAt time.Time

	stalled       bool
	stallCount    uint32
	bufferingTime time.Duration

	status domain.HealthStatus
}

func NewHealthMonitor(cfg HealthConfig, logger *zap.SugaredLogger, now time.Time) *HealthMonitor {
	m := &HealthMonitor{cfg: cfg, logger: logger}
	m.Reset(now)
	return m
}

// Update scores t and reports whether this tick entered a new stall.
//
// Playback is stalled when it is not paused and the position has not moved
// forward for longer than the stall threshold. Each stall episode counts
// once; every tick spent stalled adds its elapsed time to buffering time.
func (m *HealthMonitor) Update(t domain.Telemetry, now time.Time) (domain.HealthStatus, bool) {
	enteredStall := false

	if !m.primed {
		m.primed = true
		m.lastProgressAt = now
	} else {
		elapsed := now.Sub(m.lastTickAt)
		switch {
		case t.Paused || t.CurrentPosition > m.lastPosition:
			m.lastProgressAt = now
			if m.stalled {
				m.stalled = false
				m.logger.Debugw("playback resumed", "position", t.CurrentPosition)
			}
		case now.Sub(m.lastProgressAt) > m.cfg.StallThreshold:
			if !m.stalled {
				m.stalled = true
				m.stallCount++
				enteredStall = true
				m.logger.Infow("playback stalled",
					"position", t.CurrentPosition,
					"stall_count", m.stallCount,
				)
			}
			if elapsed > 0 {
				m.bufferingTime += elapsed
			}
		}
	}
	m.lastPosition = t.CurrentPosition
	m.lastTickAt = now

	var ratio float64
	if sinceStart := now.Sub(m.startedAt); sinceStart > 0 {
		ratio = float64(m.bufferingTime) / float64(sinceStart)
	}

	status := ScoreHealth(HealthInputs{
		BufferLevel:      t.BufferLevel(),
		DroppedFrameRate: t.DroppedFrameRate(),
		StallCount:       m.stallCount,
		BufferingRatio:   ratio,
		Stalled:          m.stalled,
	}, m.cfg)
	status.BufferingTimeMs = uint64(m.bufferingTime.Milliseconds())
	status.Timestamp = now
	m.status = status

	return status, enteredStall
}

// Status returns the most recent score.
func (m *HealthMonitor) Status() domain.HealthStatus {
	return m.status
}

// Reset zeroes every counter and restores a perfect score.
func (m *HealthMonitor) Reset(now time.Time) {
	m.startedAt = now
	m.primed = false
	m.lastTickAt = time.Time{}
	m.lastPosition = 0
	m.lastProgressAt = time.Time{}
	m.stalled = false
	m.stallCount = 0
	m.bufferingTime = 0
	m.status = domain.HealthyStatus(now)
}
