package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.Conversation("create", "ok")
	m.Conversation("create", "ok")
	m.Conversation("create", "exists")
	m.Token("ok")
	m.StreamOpened()
	m.StreamOpened()
	m.StreamClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConversationEvents.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConversationEvents.WithLabelValues("create", "exists")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokensIssued.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Conversation("create", "ok")
		m.Token("denied")
		m.StreamFrame("in")
		m.StreamOpened()
		m.StreamClosed()
	})
}
