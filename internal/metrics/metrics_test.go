package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ProtocolEvent("page")
		m.AttachOutcome(AttachDuplicate)
		m.SetSessions(3)
		m.RequestsRecorded(2)
		m.EntryDropped("Network.requestWillBeSent")
	})
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.ProtocolEvent("iframe")
	m.ProtocolEvent("iframe")
	m.AttachOutcome(AttachInstrumented)
	m.RequestsRecorded(76)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.protocolEvents.WithLabelValues("iframe")))
	assert.Equal(t, 76.0, testutil.ToFloat64(m.recordedRequests))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "netgraph_target_attach_attempts_total"))
}
