package monitoring

import (
	"playloop/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	bandwidthCurrent = "current"
	bandwidthAverage = "average"
)

// PrometheusCollector exports control-loop observations. It implements
// ports.MetricsRecorder.
type PrometheusCollector struct {
	sessionsActive prometheus.Gauge
	stallsTotal    prometheus.Counter

	qualitySwitches  *prometheus.CounterVec
	recoveryAttempts *prometheus.CounterVec

	// Per-session gauges, removed when the session closes.
	bandwidthMbps    *prometheus.GaugeVec
	healthScore      *prometheus.GaugeVec
	bufferLevel      *prometheus.GaugeVec
	droppedFrameRate *prometheus.GaugeVec
}

// NewPrometheusCollector registers the playloop metrics on reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "playloop_sessions_active",
			Help: "Number of active playback sessions",
		}),

		stallsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "playloop_stalls_total",
			Help: "Total number of playback stall episodes",
		}),

		qualitySwitches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "playloop_quality_switches_total",
			Help: "Total number of committed quality switches",
		}, []string{"reason"}),

		recoveryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "playloop_recovery_attempts_total",
			Help: "Total number of recovery attempts by outcome",
		}, []string{"outcome"}),

		bandwidthMbps: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "playloop_bandwidth_mbps",
			Help: "Estimated download bandwidth in megabits per second",
		}, []string{"session_id", "kind"}),

		healthScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "playloop_health_score",
			Help: "Playback health score (0-100)",
		}, []string{"session_id"}),

		bufferLevel: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "playloop_buffer_level_seconds",
			Help: "Seconds of media buffered ahead of the playhead",
		}, []string{"session_id"}),

		droppedFrameRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "playloop_dropped_frame_ratio",
			Help: "Fraction of decoded frames dropped",
		}, []string{"session_id"}),
	}
}

func (p *PrometheusCollector) ObserveBandwidth(sessionID domain.SessionID, est domain.BandwidthEstimate) {
	id := string(sessionID)
	p.bandwidthMbps.WithLabelValues(id, bandwidthCurrent).Set(est.CurrentMbps)
	p.bandwidthMbps.WithLabelValues(id, bandwidthAverage).Set(est.AverageMbps)
}

func (p *PrometheusCollector) ObserveHealth(sessionID domain.SessionID, status domain.HealthStatus) {
	id := string(sessionID)
	p.healthScore.WithLabelValues(id).Set(float64(status.Score))
	p.bufferLevel.WithLabelValues(id).Set(status.BufferLevel)
	p.droppedFrameRate.WithLabelValues(id).Set(status.DroppedFrameRate)
}

func (p *PrometheusCollector) RecordStall(domain.SessionID) {
	p.stallsTotal.Inc()
}

func (p *PrometheusCollector) RecordQualitySwitch(_ domain.SessionID, reason string) {
	p.qualitySwitches.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) RecordRecoveryAttempt(_ domain.SessionID, outcome string) {
	p.recoveryAttempts.WithLabelValues(outcome).Inc()
}

func (p *PrometheusCollector) SessionOpened(domain.SessionID) {
	p.sessionsActive.Inc()
}

func (p *PrometheusCollector) SessionClosed(sessionID domain.SessionID) {
	p.sessionsActive.Dec()

	id := string(sessionID)
	p.bandwidthMbps.DeleteLabelValues(id, bandwidthCurrent)
	p.bandwidthMbps.DeleteLabelValues(id, bandwidthAverage)
	p.healthScore.DeleteLabelValues(id)
	p.bufferLevel.DeleteLabelValues(id)
	p.droppedFrameRate.DeleteLabelValues(id)
}
