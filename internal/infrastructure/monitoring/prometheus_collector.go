package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports engine counters and gauges. It implements
// services.EngineMetrics.
type PrometheusCollector struct {
	sessionsActive   prometheus.Gauge
	sessionsTotal    prometheus.Counter
	sessionRetries   prometheus.Counter

	renegotiationsQueued    prometheus.Counter
	renegotiationsCompleted prometheus.Counter
	renegotiationsDropped   prometheus.Counter

	qualityStepDowns prometheus.Counter
	qualityStepUps   prometheus.Counter
	videoRung        *prometheus.GaugeVec

	signalsSent     *prometheus.CounterVec
	signalsReceived *prometheus.CounterVec

	speakingTransitions prometheus.Counter
	speakingActive      prometheus.Gauge
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicelink_sessions_active",
			Help: "Number of currently open peer sessions",
		}),

		sessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_sessions_total",
			Help: "Total number of peer sessions opened",
		}),

		sessionRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_session_retries_total",
			Help: "Total number of session connection retries",
		}),

		renegotiationsQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_renegotiations_queued_total",
			Help: "Total renegotiation requests accepted into the queue",
		}),

		renegotiationsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_renegotiations_completed_total",
			Help: "Total renegotiations that dispatched a local offer",
		}),

		renegotiationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_renegotiations_dropped_total",
			Help: "Total renegotiation requests dropped",
		}),

		qualityStepDowns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_quality_step_downs_total",
			Help: "Total adaptive quality ladder step-downs",
		}),

		qualityStepUps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_quality_step_ups_total",
			Help: "Total adaptive quality ladder step-ups",
		}),

		videoRung: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voicelink_video_rung",
			Help: "Current video quality rung (1 for the active rung)",
		}, []string{"rung"}),

		signalsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelink_signals_sent_total",
			Help: "Total signaling messages sent, by type",
		}, []string{"type"}),

		signalsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voicelink_signals_received_total",
			Help: "Total signaling messages received, by type",
		}, []string{"type"}),

		speakingTransitions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "voicelink_speaking_transitions_total",
			Help: "Total local speaking state transitions",
		}),

		speakingActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voicelink_speaking_active",
			Help: "Whether the local user is currently speaking (0 or 1)",
		}),
	}
}

func (p *PrometheusCollector) SessionOpened() {
	p.sessionsActive.Inc()
	p.sessionsTotal.Inc()
}

func (p *PrometheusCollector) SessionClosed() {
	p.sessionsActive.Dec()
}

func (p *PrometheusCollector) SessionRetry() {
	p.sessionRetries.Inc()
}

func (p *PrometheusCollector) RenegotiationQueued() {
	p.renegotiationsQueued.Inc()
}

func (p *PrometheusCollector) RenegotiationCompleted() {
	p.renegotiationsCompleted.Inc()
}

func (p *PrometheusCollector) RenegotiationDropped() {
	p.renegotiationsDropped.Inc()
}

func (p *PrometheusCollector) QualityStepDown() {
	p.qualityStepDowns.Inc()
}

func (p *PrometheusCollector) QualityStepUp() {
	p.qualityStepUps.Inc()
}

func (p *PrometheusCollector) VideoRungChanged(name string) {
	p.videoRung.Reset()
	p.videoRung.WithLabelValues(name).Set(1)
}

func (p *PrometheusCollector) SignalSent(msgType string) {
	p.signalsSent.WithLabelValues(msgType).Inc()
}

func (p *PrometheusCollector) SignalReceived(msgType string) {
	p.signalsReceived.WithLabelValues(msgType).Inc()
}

func (p *PrometheusCollector) SpeakingChanged(speaking bool) {
	p.speakingTransitions.Inc()
	if speaking {
		p.speakingActive.Set(1)
	} else {
		p.speakingActive.Set(0)
	}
}
