package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the conversation backend.
type Metrics struct {
	ActiveStreams      prometheus.Gauge
	TokensIssued       *prometheus.CounterVec
	ConversationEvents *prometheus.CounterVec
	StreamMessages     *prometheus.CounterVec
}

// NewMetrics registers the instruments on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Number of connected conversation stream clients.",
		}),
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Access tokens issued by outcome.",
		}, []string{"outcome"}),
		ConversationEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_events_total",
			Help:      "Conversation operations by type and outcome.",
		}, []string{"event", "outcome"}),
		StreamMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_messages_total",
			Help:      "Stream frames by direction.",
		}, []string{"direction"}),
	}
	if reg != nil {
		reg.MustRegister(m.ActiveStreams, m.TokensIssued, m.ConversationEvents, m.StreamMessages)
	}
	return m
}

// Conversation counts a conversation operation; safe on a nil receiver.
func (m *Metrics) Conversation(event, outcome string) {
	if m == nil {
		return
	}
	m.ConversationEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) Token(outcome string) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StreamFrame(direction string) {
	if m == nil {
		return
	}
	m.StreamMessages.WithLabelValues(direction).Inc()
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
