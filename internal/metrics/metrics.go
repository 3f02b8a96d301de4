// Package metrics exposes the engine's Prometheus collectors. A nil *Metrics
// is valid everywhere; every recording method is a no-op on it, so tests and
// stripped-down deployments skip registration entirely.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Rate limiter metrics
	AdmissionsTotal *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	QueueDrained    *prometheus.CounterVec
	QueueRejected   *prometheus.CounterVec

	// Health monitor metrics
	ProbesTotal   *prometheus.CounterVec
	ProbeDuration *prometheus.HistogramVec
	ProviderUp    *prometheus.GaugeVec

	// Proxy pool metrics
	ProxySelections *prometheus.CounterVec
	ProxyFailures   *prometheus.CounterVec

	// Aggregator metrics
	SearchesTotal  *prometheus.CounterVec
	SearchDuration *prometheus.HistogramVec
	MergedResults  prometheus.Counter

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// New creates and registers all collectors on the default registry
func New() *Metrics {
	return &Metrics{
		AdmissionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_admissions_total",
				Help: "Rate limiter admission decisions",
			},
			[]string{"provider", "outcome"},
		),

		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orchestrator_queue_depth",
				Help: "Requests currently queued per provider",
			},
			[]string{"provider"},
		),

		QueueDrained: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_queue_drained_total",
				Help: "Queued requests executed by the drain loop",
			},
			[]string{"provider"},
		),

		QueueRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_queue_rejected_total",
				Help: "Requests rejected because the queue was full",
			},
			[]string{"provider"},
		),

		ProbesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_probes_total",
				Help: "Health probe outcomes",
			},
			[]string{"provider", "outcome"},
		),

		ProbeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_probe_duration_seconds",
				Help:    "Duration of health probes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		ProviderUp: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orchestrator_provider_up",
				Help: "Provider routability (1 = routable, 0 = down)",
			},
			[]string{"provider", "state"},
		),

		ProxySelections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_proxy_selections_total",
				Help: "Proxy selections per provider and strategy",
			},
			[]string{"provider", "strategy"},
		),

		ProxyFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_proxy_failures_total",
				Help: "Failed usages recorded against proxies",
			},
			[]string{"provider"},
		),

		SearchesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_searches_total",
				Help: "Aggregated searches by mode and status",
			},
			[]string{"mode", "status"},
		),

		SearchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_search_duration_seconds",
				Help:    "Duration of aggregated searches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),

		MergedResults: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "orchestrator_merged_results_total",
				Help: "Metadata records returned after merging",
			},
		),

		CacheHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "orchestrator_cache_hits_total",
				Help: "Search cache hits",
			},
		),

		CacheMisses: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "orchestrator_cache_misses_total",
				Help: "Search cache misses",
			},
		),
	}
}

// RecordAdmission counts one admission decision
func (m *Metrics) RecordAdmission(provider, outcome string) {
	if m == nil {
		return
	}

	m.AdmissionsTotal.WithLabelValues(provider, outcome).Inc()
}

// SetQueueDepth updates the queued-request gauge for a provider
func (m *Metrics) SetQueueDepth(provider string, depth int) {
	if m == nil {
		return
	}

	m.QueueDepth.WithLabelValues(provider).Set(float64(depth))
}

// RecordDrained counts one queued request executed by the drain loop
func (m *Metrics) RecordDrained(provider string) {
	if m == nil {
		return
	}

	m.QueueDrained.WithLabelValues(provider).Inc()
}

// RecordQueueRejected counts one request rejected by a full queue
func (m *Metrics) RecordQueueRejected(provider string) {
	if m == nil {
		return
	}

	m.QueueRejected.WithLabelValues(provider).Inc()
}

// RecordProbe counts one probe and observes its duration
func (m *Metrics) RecordProbe(provider string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}

	outcome := "success"
	if !success {
		outcome = "failure"
	}

	m.ProbesTotal.WithLabelValues(provider, outcome).Inc()
	m.ProbeDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// SetProviderState publishes the routability gauge for a provider state
func (m *Metrics) SetProviderState(provider, state string, routable bool) {
	if m == nil {
		return
	}

	val := 0.0
	if routable {
		val = 1.0
	}

	m.ProviderUp.WithLabelValues(provider, state).Set(val)
}

// RecordProxySelection counts one proxy selection
func (m *Metrics) RecordProxySelection(provider, strategy string) {
	if m == nil {
		return
	}

	m.ProxySelections.WithLabelValues(provider, strategy).Inc()
}

// RecordProxyFailure counts one failed proxy usage
func (m *Metrics) RecordProxyFailure(provider string) {
	if m == nil {
		return
	}

	m.ProxyFailures.WithLabelValues(provider).Inc()
}

// RecordSearch counts one aggregated search and observes its duration
func (m *Metrics) RecordSearch(mode, status string, elapsed time.Duration, results int) {
	if m == nil {
		return
	}

	m.SearchesTotal.WithLabelValues(mode, status).Inc()
	m.SearchDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	m.MergedResults.Add(float64(results))
}

// RecordCacheHit counts one search cache hit
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}

	m.CacheHits.Inc()
}

// RecordCacheMiss counts one search cache miss
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}

	m.CacheMisses.Inc()
}
