package planner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/semplan/llm"
)

const metricsNamespace = "semplan"

// Metrics counts provider attempts, retries and coordinator outcomes. It
// implements llm.Observer so one value can be handed to every llm.Client.
type Metrics struct {
	requests *prometheus.CounterVec
	retries  *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	backoff  *prometheus.HistogramVec
}

var _ llm.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "provider_requests_total",
			Help:      "Provider HTTP attempts by provider and result kind.",
		}, []string{"provider", "result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "provider_retries_total",
			Help:      "Scheduled retries by provider and error kind.",
		}, []string{"provider", "kind"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "plan_outcomes_total",
			Help:      "Coordinator results by operation and outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Latency of single provider attempts.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		backoff: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "provider_backoff_seconds",
			Help:      "Backoff delays scheduled before a retry.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 7),
		}, []string{"provider"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.retries, m.outcomes, m.latency, m.backoff)
	}
	return m
}

// ObserveAttempt implements llm.Observer.
func (m *Metrics) ObserveAttempt(provider string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = llm.KindOf(err).String()
	}
	m.requests.WithLabelValues(provider, result).Inc()
	m.latency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveRetry implements llm.Observer.
func (m *Metrics) ObserveRetry(provider string, kind llm.Kind, delay time.Duration) {
	m.retries.WithLabelValues(provider, kind.String()).Inc()
	m.backoff.WithLabelValues(provider).Observe(delay.Seconds())
}

// ObserveOutcome counts one finished coordinator operation.
func (m *Metrics) ObserveOutcome(op string, outcome Outcome) {
	m.outcomes.WithLabelValues(op, string(outcome)).Inc()
}
