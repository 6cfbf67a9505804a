package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fleet_sim"

// Metrics raccoglie i contatori del simulatore. A nil *Metrics is valid and records nothing.
type Metrics struct {
	TelemetryPublished prometheus.Counter
	RepliesPublished   prometheus.Counter
	PublishFailures    *prometheus.CounterVec
	RequestsRouted     *prometheus.CounterVec
	RequestsDropped    *prometheus.CounterVec
	SetRejected        *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TelemetryPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_published_total",
			Help:      "Telemetry payloads published to the broker.",
		}),
		RepliesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_published_total",
			Help:      "RPC replies published to the broker.",
		}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Publish calls that failed, by message kind.",
		}, []string{"kind"}),
		RequestsRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_routed_total",
			Help:      "RPC requests delivered to a sensor, by command kind.",
		}, []string{"kind"}),
		RequestsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_dropped_total",
			Help:      "Inbound RPC requests dropped before reaching a sensor, by reason.",
		}, []string{"reason"}),
		SetRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "set_rejected_total",
			Help:      "Set commands refused by a sensor because the value did not parse.",
		}, []string{"label"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.TelemetryPublished,
			m.RepliesPublished,
			m.PublishFailures,
			m.RequestsRouted,
			m.RequestsDropped,
			m.SetRejected,
		)
	}
	return m
}

func (m *Metrics) IncTelemetry() {
	if m == nil {
		return
	}
	m.TelemetryPublished.Inc()
}

func (m *Metrics) IncReply() {
	if m == nil {
		return
	}
	m.RepliesPublished.Inc()
}

func (m *Metrics) IncPublishFailure(kind string) {
	if m == nil {
		return
	}
	m.PublishFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncRouted(kind string) {
	if m == nil {
		return
	}
	m.RequestsRouted.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.RequestsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncSetRejected(label string) {
	if m == nil {
		return
	}
	m.SetRejected.WithLabelValues(label).Inc()
}
