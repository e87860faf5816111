// Package metrics provides Prometheus metrics for thumbfix.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"thumbfix/thumbs"
)

const namespace = "thumbfix"

// Metrics holds every collector, registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	// RewritesTotal counts rewrite attempts by rewriter and outcome.
	RewritesTotal *prometheus.CounterVec
	// BatchSize observes how many mutation records each batch carried.
	BatchSize prometheus.Histogram
	// RequestsTotal counts HTTP requests by route and status code.
	RequestsTotal *prometheus.CounterVec
	// RequestDuration measures HTTP request latency.
	RequestDuration *prometheus.HistogramVec
	// PageCache counts page cache lookups by result.
	PageCache *prometheus.CounterVec
	// SettingsChanges counts applied settings changes.
	SettingsChanges prometheus.Counter
}

// New registers the collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		RewritesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rewrites_total",
				Help:      "Total number of element rewrite attempts",
			},
			[]string{"kind", "outcome"},
		),
		BatchSize: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "mutation_batch_size",
				Help:      "Distribution of mutation batch sizes",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "code"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		PageCache: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "page_cache_total",
				Help:      "Page cache lookups by result",
			},
			[]string{"result"},
		),
		SettingsChanges: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settings_changes_total",
				Help:      "Total number of applied settings changes",
			},
		),
	}
}

// Observe implements thumbs.Stats.
func (m *Metrics) Observe(kind thumbs.Kind, outcome thumbs.Outcome) {
	m.RewritesTotal.WithLabelValues(string(kind), string(outcome)).Inc()
}

// RecordBatch records the size of one mutation batch.
func (m *Metrics) RecordBatch(records int) {
	m.BatchSize.Observe(float64(records))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
