// Package metrics exposes Prometheus metrics for lookups, jobs and matches.
// A nil *Manager is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/participant-enrichment/internal/model"
	"github.com/sells-group/participant-enrichment/internal/resilience"
)

// Manager owns every collector and the registry they are registered on.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	registry         *prometheus.Registry
	goCollectors     bool

	lookups        *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec
	jobs           *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	queueJobs      *prometheus.GaugeVec
	matches        *prometheus.CounterVec
	enrichments    *prometheus.CounterVec
	costCents      *prometheus.CounterVec
	breakerState   *prometheus.GaugeVec
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace sets the metric namespace.
func WithNamespace(ns string) Option {
	return func(m *Manager) {
		if ns != "" {
			m.namespace = ns
		}
	}
}

// WithHistogramBuckets overrides latency buckets.
func WithHistogramBuckets(b []float64) Option {
	return func(m *Manager) {
		if len(b) > 0 {
			m.histogramBuckets = b
		}
	}
}

// WithRegistry registers collectors on r instead of a fresh registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// WithGoCollectors adds the Go runtime and process collectors.
func WithGoCollectors() Option {
	return func(m *Manager) {
		m.goCollectors = true
	}
}

// NewManager builds a Manager on its own registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "participant_enrichment",
		histogramBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		registry:         prometheus.NewRegistry(),
	}
	for _, o := range opts {
		o(m)
	}
	m.init()
	return m
}

func (m *Manager) init() {
	auto := promauto.With(m.registry)
	if m.goCollectors {
		m.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	m.lookups = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "provider_lookups_total",
		Help:      "Provider lookups by outcome.",
	}, []string{"provider", "outcome"})
	m.lookupDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "provider_lookup_duration_seconds",
		Help:      "Provider lookup latency.",
		Buckets:   m.histogramBuckets,
	}, []string{"provider"})
	m.jobs = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "jobs_processed_total",
		Help:      "Jobs processed by queue and result.",
	}, []string{"queue", "result"})
	m.jobDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "job_duration_seconds",
		Help:      "Job handler latency.",
		Buckets:   m.histogramBuckets,
	}, []string{"queue"})
	m.queueJobs = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "queue_jobs",
		Help:      "Jobs currently in each queue state.",
	}, []string{"queue", "state"})
	m.matches = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "contact_matches_total",
		Help:      "Participants linked to existing contacts, by method.",
	}, []string{"method"})
	m.enrichments = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "enrichments_total",
		Help:      "Enrichment resolutions by source and result.",
	}, []string{"source", "result"})
	m.costCents = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "provider_cost_cents_total",
		Help:      "Provider spend in cents.",
	}, []string{"provider"})
	m.breakerState = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "circuit_breaker_state",
		Help:      "Breaker state per provider (0 closed, 1 open, 2 half-open).",
	}, []string{"provider"})
}

// Registry returns the registry collectors are registered on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveLookup records one guarded provider call.
func (m *Manager) ObserveLookup(src model.Source, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(string(src), outcome).Inc()
	m.lookupDuration.WithLabelValues(string(src)).Observe(elapsed.Seconds())
}

// ObserveJob records a handled job. result is completed, retried or failed.
func (m *Manager) ObserveJob(queue, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(queue, result).Inc()
	m.jobDuration.WithLabelValues(queue).Observe(elapsed.Seconds())
}

// SetQueueStats publishes a queue's state counts.
func (m *Manager) SetQueueStats(queue string, st model.QueueStats) {
	if m == nil {
		return
	}
	m.queueJobs.WithLabelValues(queue, string(model.JobWaiting)).Set(float64(st.Waiting))
	m.queueJobs.WithLabelValues(queue, string(model.JobActive)).Set(float64(st.Active))
	m.queueJobs.WithLabelValues(queue, string(model.JobCompleted)).Set(float64(st.Completed))
	m.queueJobs.WithLabelValues(queue, string(model.JobFailed)).Set(float64(st.Failed))
}

// IncMatch counts a participant linked to a contact by method (exact, fuzzy, manual).
func (m *Manager) IncMatch(method string) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(method).Inc()
}

// ObserveEnrichment counts a resolution outcome and its spend.
func (m *Manager) ObserveEnrichment(src model.Source, status model.EnrichmentStatus, costCents int) {
	if m == nil {
		return
	}
	m.enrichments.WithLabelValues(string(src), string(status)).Inc()
	if costCents > 0 {
		m.costCents.WithLabelValues(string(src)).Add(float64(costCents))
	}
}

// SetBreakerState publishes a provider breaker's state.
func (m *Manager) SetBreakerState(provider string, state resilience.CircuitState) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(provider).Set(float64(state))
}
