// Package telemetry exports Prometheus metrics for the complaint pipeline.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "suarawarga"

// Metrics holds the service's collectors. A nil *Metrics is valid and
// records nothing, so services can be built without telemetry in tests.
type Metrics struct {
	ComplaintsSubmitted    *prometheus.CounterVec
	ClusterDecisions       *prometheus.CounterVec
	ClassificationFallback *prometheus.CounterVec
	WorkflowTransitions    *prometheus.CounterVec
	LedgerSubmissions      *prometheus.CounterVec
	ConfirmationLatency    prometheus.Histogram

	gatherer prometheus.Gatherer
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New registers every collector on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{gatherer: reg}

	m.ComplaintsSubmitted = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "complaints_submitted_total",
		Help:      "Complaints accepted, by category and intake channel",
	}, []string{"category", "channel"})

	m.ClusterDecisions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cluster_decisions_total",
		Help:      "Cluster assignment outcomes",
	}, []string{"decision"})

	m.ClassificationFallback = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_fallbacks_total",
		Help:      "LLM calls answered with the typed default, by operation",
	}, []string{"operation"})

	m.WorkflowTransitions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_transitions_total",
		Help:      "Accepted workflow transitions by target status",
	}, []string{"status"})

	m.LedgerSubmissions = f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_submissions_total",
		Help:      "Ledger anchoring attempts by outcome",
	}, []string{"outcome"})

	m.ConfirmationLatency = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "ledger_confirmation_seconds",
		Help:      "Time from submission to confirmed inclusion",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	})

	return m
}

// Handler serves the registry on /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ComplaintSubmitted(category, channel string) {
	if m == nil {
		return
	}
	m.ComplaintsSubmitted.WithLabelValues(category, channel).Inc()
}

func (m *Metrics) ClusterDecision(decision string) {
	if m == nil {
		return
	}
	m.ClusterDecisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) LLMFallback(operation string) {
	if m == nil {
		return
	}
	m.ClassificationFallback.WithLabelValues(operation).Inc()
}

func (m *Metrics) Transition(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.WorkflowTransitions.WithLabelValues(status).Add(float64(n))
}

func (m *Metrics) LedgerOutcome(outcome string) {
	if m == nil {
		return
	}
	m.LedgerSubmissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Confirmed(submittedAt time.Time) {
	if m == nil {
		return
	}
	m.ConfirmationLatency.Observe(time.Since(submittedAt).Seconds())
}
