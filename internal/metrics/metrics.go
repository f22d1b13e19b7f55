// Package metrics 定义会话树与网络记录器的 prometheus 指标。
// 所有方法对 nil 接收者安全，未配置指标时直接跳过。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "netgraph"

// Attach 结果分类
const (
	AttachInstrumented = "instrumented"
	AttachDuplicate    = "duplicate"
	AttachUnsupported  = "unsupported_type"
	AttachRaceLost     = "target_closed"
	AttachDisabled     = "disabled"
	AttachFailed       = "failed"
)

type Metrics struct {
	Registry *prometheus.Registry

	protocolEvents     *prometheus.CounterVec
	attachAttempts     *prometheus.CounterVec
	unsupportedDomains *prometheus.CounterVec
	resumeFailures     prometheus.Counter
	sessions           prometheus.Gauge
	recordedRequests   prometheus.Counter
	droppedEntries     *prometheus.CounterVec
}

// New 在独立的 registry 上注册全部指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		protocolEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "target", Name: "protocol_events_total",
			Help: "Protocol events forwarded onto the unified stream.",
		}, []string{"target_type"}),
		attachAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "target", Name: "attach_attempts_total",
			Help: "Session attach attempts by outcome.",
		}, []string{"outcome"}),
		unsupportedDomains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "target", Name: "unsupported_domain_total",
			Help: "Instrumentation commands rejected as unsupported by a target.",
		}, []string{"method", "target_type"}),
		resumeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "target", Name: "resume_failures_total",
			Help: "Runtime.runIfWaitingForDebugger calls that returned an error.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "target", Name: "sessions",
			Help: "Sessions currently tracked by the session tree.",
		}),
		recordedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "recorder", Name: "requests_total",
			Help: "Finalized network requests produced by the recorder.",
		}),
		droppedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "recorder", Name: "dropped_entries_total",
			Help: "Log entries dropped as malformed.",
		}, []string{"method"}),
	}
	reg.MustRegister(
		m.protocolEvents, m.attachAttempts, m.unsupportedDomains, m.resumeFailures,
		m.sessions, m.recordedRequests, m.droppedEntries,
	)
	return m
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ProtocolEvent(targetType string) {
	if m == nil {
		return
	}
	m.protocolEvents.WithLabelValues(targetType).Inc()
}

func (m *Metrics) AttachOutcome(outcome string) {
	if m == nil {
		return
	}
	m.attachAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) UnsupportedDomain(method, targetType string) {
	if m == nil {
		return
	}
	m.unsupportedDomains.WithLabelValues(method, targetType).Inc()
}

func (m *Metrics) ResumeFailed() {
	if m == nil {
		return
	}
	m.resumeFailures.Inc()
}

func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func (m *Metrics) RequestsRecorded(n int) {
	if m == nil {
		return
	}
	m.recordedRequests.Add(float64(n))
}

func (m *Metrics) EntryDropped(method string) {
	if m == nil {
		return
	}
	m.droppedEntries.WithLabelValues(method).Inc()
}
