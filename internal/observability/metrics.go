package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------------
// Prometheus metrics — one collector bundle for the whole process
// ---------------------------------------------------------------------------

// Metrics holds every collector the engine reports into. All collectors are
// registered on the bundled registry, which the ops server exposes.
type Metrics struct {
	registry *prometheus.Registry

	ScansTotal        prometheus.Counter
	ScanDuration      prometheus.Histogram
	ScansSkipped      prometheus.Counter
	CandidatesTotal   *prometheus.CounterVec
	PoolSize          prometheus.Gauge
	PoolEvictions     *prometheus.CounterVec
	HotRechecks       prometheus.Counter
	TokensEvaluated   prometheus.Counter
	EligiblePasses    prometheus.Counter
	AlertsEmitted     *prometheus.CounterVec
	AlertsSuppressed  *prometheus.CounterVec
	AlertLag          prometheus.Histogram
	UpstreamRequests  prometheus.CounterFunc
	UpstreamCacheHits prometheus.CounterFunc
	PerformanceHits   *prometheus.CounterVec
}

// UpstreamStats is the read side of the market client's counters. Defined
// here so the metrics bundle can scrape them lazily instead of the client
// pushing on every request.
type UpstreamStats interface {
	RequestCount() int64
	CacheHitCount() int64
}

// NewMetrics builds and registers the collector bundle.
func NewMetrics(upstream UpstreamStats) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{registry: reg}

	m.ScansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trenchwatch_scans_total",
		Help: "Completed scan cycles.",
	})
	m.ScanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "trenchwatch_scan_duration_seconds",
		Help:    "Wall time of a full scan cycle.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
	})
	m.ScansSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trenchwatch_scans_skipped_total",
		Help: "Scan ticks skipped because the previous cycle was still running.",
	})
	m.CandidatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trenchwatch_candidates_total",
		Help: "Candidates discovered, by source.",
	}, []string{"source"})
	m.PoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trenchwatch_pool_size",
		Help: "Pairs currently tracked in the candidate pool.",
	})
	m.PoolEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trenchwatch_pool_evictions_total",
		Help: "Pool evictions, by cause.",
	}, []string{"cause"})
	m.HotRechecks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trenchwatch_hot_rechecks_total",
		Help: "Hot-set pair refreshes issued upstream.",
	})
	m.TokensEvaluated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trenchwatch_tokens_evaluated_total",
		Help: "Tokens run through the eligibility evaluator.",
	})
	m.EligiblePasses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trenchwatch_eligible_passes_total",
		Help: "Evaluations where every threshold was satisfied.",
	})
	m.AlertsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trenchwatch_alerts_emitted_total",
		Help: "Alerts delivered to notifiers, by transition.",
	}, []string{"transition"})
	m.AlertsSuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trenchwatch_alerts_suppressed_total",
		Help: "Alert-worthy transitions that were not delivered, by reason.",
	}, []string{"reason"})
	m.AlertLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "trenchwatch_alert_lag_seconds",
		Help: "Seconds between a token's first sighting and its alert.",
		Buckets: []float64{
			30, 60, 120, 300, 600, 1800, 3600, 4 * 3600, 24 * 3600,
		},
	})
	m.PerformanceHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trenchwatch_performance_hits_total",
		Help: "Called tokens crossing a performance multiple for the first time.",
	}, []string{"multiple"})

	reg.MustRegister(
		m.ScansTotal, m.ScanDuration, m.ScansSkipped, m.CandidatesTotal,
		m.PoolSize, m.PoolEvictions, m.HotRechecks, m.TokensEvaluated,
		m.EligiblePasses, m.AlertsEmitted, m.AlertsSuppressed, m.AlertLag,
		m.PerformanceHits,
	)

	if upstream != nil {
		m.UpstreamRequests = prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "trenchwatch_upstream_requests_total",
			Help: "HTTP requests issued to the market API.",
		}, func() float64 { return float64(upstream.RequestCount()) })
		m.UpstreamCacheHits = prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "trenchwatch_upstream_cache_hits_total",
			Help: "Market API reads served from the response cache.",
		}, func() float64 { return float64(upstream.CacheHitCount()) })
		reg.MustRegister(m.UpstreamRequests, m.UpstreamCacheHits)
	}

	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
