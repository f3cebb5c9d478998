// Package metrics exposes Prometheus collectors for the narration pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "narration"

// Metrics holds the pipeline collectors and the registry they are
// registered on. All methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	cacheLookupsTotal *prometheus.CounterVec
	cacheLookupErrors *prometheus.CounterVec
	providerCalls     *prometheus.CounterVec
	providerDuration  *prometheus.HistogramVec
	providerChars     *prometheus.CounterVec
	providerCostCents *prometheus.CounterVec
	avoidedCostCents  *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	assetBytes        prometheus.Histogram
	jobsActive        prometheus.Gauge
	claimsTotal       *prometheus.CounterVec
	eventsPrunedTotal prometheus.Counter
}

// New creates the collectors on a fresh registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Narration requests by outcome",
		}, []string{"outcome"}), // outcome: cached_local, cached_global, synthesized, or an error kind
		cacheLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by tier and result",
		}, []string{"tier", "result"}), // result: hit, miss, error
		cacheLookupErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookup_errors_total",
			Help:      "Cache lookups that failed and were treated as a miss",
		}, []string{"tier"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Speech provider calls by provider and status",
		}, []string{"provider", "status"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Duration of speech provider calls in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"provider"}),
		providerChars: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_characters_total",
			Help:      "Characters sent to the speech provider",
		}, []string{"provider"}),
		providerCostCents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_cost_cents_total",
			Help:      "Estimated provider cost in cents",
		}, []string{"provider"}),
		avoidedCostCents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "avoided_cost_cents_total",
			Help:      "Estimated provider cost avoided by cache hits, in cents",
		}, []string{"tier"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "End-to-end narration duration in seconds",
			Buckets:   []float64{.05, .1, .5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"cached"}),
		assetBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "asset_bytes",
			Help:      "Size of published audio assets in bytes",
			Buckets:   prometheus.ExponentialBuckets(64*1024, 2, 10),
		}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Narration jobs currently in progress",
		}),
		claimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "In-flight claim attempts by result",
		}, []string{"result"}), // result: acquired, contended, error
		eventsPrunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_pruned_total",
			Help:      "Job events deleted by the retention job",
		}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.cacheLookupsTotal,
		m.cacheLookupErrors,
		m.providerCalls,
		m.providerDuration,
		m.providerChars,
		m.providerCostCents,
		m.avoidedCostCents,
		m.jobDuration,
		m.assetBytes,
		m.jobsActive,
		m.claimsTotal,
		m.eventsPrunedTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) Request(outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
}

// CacheLookup records one tier lookup. result is "hit", "miss" or "error".
func (m *Metrics) CacheLookup(tier, result string) {
	if m == nil {
		return
	}
	m.cacheLookupsTotal.WithLabelValues(tier, result).Inc()
	if result == "error" {
		m.cacheLookupErrors.WithLabelValues(tier).Inc()
	}
}

func (m *Metrics) ProviderCall(provider string, chars int, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.providerCalls.WithLabelValues(provider, status).Inc()
	m.providerDuration.WithLabelValues(provider).Observe(d.Seconds())
	m.providerChars.WithLabelValues(provider).Add(float64(chars))
}

func (m *Metrics) ProviderCost(provider string, cents int) {
	if m == nil {
		return
	}
	m.providerCostCents.WithLabelValues(provider).Add(float64(cents))
}

func (m *Metrics) AvoidedCost(tier string, cents int) {
	if m == nil {
		return
	}
	m.avoidedCostCents.WithLabelValues(tier).Add(float64(cents))
}

func (m *Metrics) AssetPublished(bytes int) {
	if m == nil {
		return
	}
	m.assetBytes.Observe(float64(bytes))
}

// JobStarted increments the active gauge and returns a func that records the
// job duration and decrements it.
func (m *Metrics) JobStarted() func(cached bool) {
	if m == nil {
		return func(bool) {}
	}
	start := time.Now()
	m.jobsActive.Inc()
	return func(cached bool) {
		m.jobsActive.Dec()
		label := "false"
		if cached {
			label = "true"
		}
		m.jobDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Claim(result string) {
	if m == nil {
		return
	}
	m.claimsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) EventsPruned(n int64) {
	if m == nil {
		return
	}
	m.eventsPrunedTotal.Add(float64(n))
}
