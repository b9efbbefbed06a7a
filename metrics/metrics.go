// Package metrics exposes voice link counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsStarted   prometheus.Counter
	SessionsFailed    prometheus.Counter
	SessionActive     prometheus.Gauge
	SessionDuration   prometheus.Histogram
	ConnectDuration   prometheus.Histogram
	FramesSent        prometheus.Counter
	FramesDropped     prometheus.Counter
	SendErrors        prometheus.Counter
	SegmentsScheduled prometheus.Counter
	DecodeErrors      prometheus.Counter
	Interruptions     prometheus.Counter
	TurnsCompleted    prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. A nil reg uses a private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	m := &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "refuge_sessions_started_total",
			Help: "Voice links that reached the active state",
		}),
		SessionsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "refuge_sessions_failed_total",
			Help: "Start attempts that failed before the link became active",
		}),
		SessionActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "refuge_session_active",
			Help: "1 while a voice link is active",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "refuge_session_duration_seconds",
			Help:    "Lifetime of active voice links",
			Buckets: []float64{5, 30, 60, 300, 900, 1800, 3600},
		}),
		ConnectDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "refuge_connect_duration_seconds",
			Help:    "Time from dial to setup confirmation",
			Buckets: prometheus.DefBuckets,
		}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "refuge_frames_sent_total",
			Help: "Microphone frames delivered to the link",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "refuge_frames_dropped_total",
			Help: "Microphone frames dropped because the send queue was full",
		}),
		SendErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "refuge_send_errors_total",
			Help: "Microphone frames the link failed to send",
		}),
		SegmentsScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "refuge_segments_scheduled_total",
			Help: "Response audio segments scheduled for playback",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "refuge_decode_errors_total",
			Help: "Inbound audio payloads that failed to decode",
		}),
		Interruptions: f.NewCounter(prometheus.CounterOpts{
			Name: "refuge_interruptions_total",
			Help: "Server interruptions that flushed playback",
		}),
		TurnsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "refuge_turns_completed_total",
			Help: "Completed conversation turns",
		}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler serves the registry New was given, or the default gatherer.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted(connect time.Duration) {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
	m.SessionActive.Set(1)
	m.ConnectDuration.Observe(connect.Seconds())
}

func (m *Metrics) SessionFailed() {
	if m == nil {
		return
	}
	m.SessionsFailed.Inc()
}

func (m *Metrics) SessionEnded(lifetime time.Duration) {
	if m == nil {
		return
	}
	m.SessionActive.Set(0)
	m.SessionDuration.Observe(lifetime.Seconds())
}

func (m *Metrics) FrameSent() {
	if m != nil {
		m.FramesSent.Inc()
	}
}

func (m *Metrics) FrameDropped() {
	if m != nil {
		m.FramesDropped.Inc()
	}
}

func (m *Metrics) SendError() {
	if m != nil {
		m.SendErrors.Inc()
	}
}

func (m *Metrics) SegmentScheduled() {
	if m != nil {
		m.SegmentsScheduled.Inc()
	}
}

func (m *Metrics) DecodeError() {
	if m != nil {
		m.DecodeErrors.Inc()
	}
}

func (m *Metrics) Interrupted() {
	if m != nil {
		m.Interruptions.Inc()
	}
}

func (m *Metrics) TurnCompleted() {
	if m != nil {
		m.TurnsCompleted.Inc()
	}
}
