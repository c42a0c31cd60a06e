package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the insights cache.
type Metrics struct {
	// Cache metrics
	CacheLookups     *prometheus.CounterVec
	SingleFlightWait *prometheus.HistogramVec
	CacheEntries     prometheus.Gauge
	PrunedEntries    prometheus.Counter

	// Upstream metrics
	UpstreamFetches *prometheus.CounterVec
	UpstreamLatency *prometheus.HistogramVec
	UpstreamRetries *prometheus.CounterVec

	// Store metrics
	SummaryWrites   *prometheus.CounterVec
	EventsPublished *prometheus.CounterVec

	// Collector metrics
	CollectorRuns *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests  *prometheus.CounterVec
	HTTPLatency   *prometheus.HistogramVec
	RateLimitHits *prometheus.CounterVec

	// System metrics
	DBConnections *prometheus.GaugeVec
}

var (
	// DefaultMetrics is the global metrics instance
	DefaultMetrics *Metrics
)

// NewMetrics creates and registers all metrics on the default registerer.
func NewMetrics(namespace string) *Metrics {
	m := NewMetricsWith(prometheus.DefaultRegisterer, namespace)
	DefaultMetrics = m
	return m
}

// NewMetricsWith registers the metrics on reg. Tests pass a fresh registry.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Cache metrics
		CacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Period lookups by outcome",
			},
			[]string{"platform", "result"}, // fresh, stale, fetched, historical, no_data
		),
		SingleFlightWait: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "single_flight_wait_seconds",
				Help:      "Time callers spent waiting on another caller's fetch",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"platform"},
		),
		CacheEntries: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Number of per-key router states held in memory",
			},
		),
		PrunedEntries: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_pruned_total",
				Help:      "Orphaned cache entries removed after a period rolled over",
			},
		),

		// Upstream metrics
		UpstreamFetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_fetches_total",
				Help:      "Ad platform fetches by status",
			},
			[]string{"platform", "status"},
		),
		UpstreamLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_fetch_seconds",
				Help:      "Ad platform fetch latency",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"platform"},
		),
		UpstreamRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_retries_total",
				Help:      "Retried ad platform HTTP calls",
			},
			[]string{"platform"},
		),

		// Store metrics
		SummaryWrites: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "summary_writes_total",
				Help:      "Summary upserts by status",
			},
			[]string{"status"}, // ok, retry, error
		),
		EventsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Summary update notifications by status",
			},
			[]string{"status"},
		),

		// Collector metrics
		CollectorRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "collector_runs_total",
				Help:      "Closed-period collection runs by summary type and status",
			},
			[]string{"summary_type", "status"},
		),

		// HTTP metrics
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
		HTTPLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint"},
		),

		DBConnections: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"}, // idle, in_use, total
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordLookup records how a period lookup was served.
func (m *Metrics) RecordLookup(platform, result string) {
	m.CacheLookups.WithLabelValues(platform, result).Inc()
}

// RecordWait records time spent waiting on a concurrent fetch.
func (m *Metrics) RecordWait(platform string, d time.Duration) {
	m.SingleFlightWait.WithLabelValues(platform).Observe(d.Seconds())
}

// RecordUpstreamFetch records a completed platform fetch.
func (m *Metrics) RecordUpstreamFetch(platform string, ok bool, latency time.Duration) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.UpstreamFetches.WithLabelValues(platform, status).Inc()
	m.UpstreamLatency.WithLabelValues(platform).Observe(latency.Seconds())
}

// RecordUpstreamRetry records a retried platform HTTP call.
func (m *Metrics) RecordUpstreamRetry(platform string) {
	m.UpstreamRetries.WithLabelValues(platform).Inc()
}

// RecordSummaryWrite records a summary upsert outcome.
func (m *Metrics) RecordSummaryWrite(status string) {
	m.SummaryWrites.WithLabelValues(status).Inc()
}

// RecordEventPublished records a notification outcome.
func (m *Metrics) RecordEventPublished(ok bool) {
	m.EventsPublished.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

// RecordCollectorRun records a collector pass.
func (m *Metrics) RecordCollectorRun(summaryType string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.CollectorRuns.WithLabelValues(summaryType, status).Inc()
}

// RecordPruned records removed cache entries and the remaining count.
func (m *Metrics) RecordPruned(removed, remaining int) {
	m.PrunedEntries.Add(float64(removed))
	m.CacheEntries.Set(float64(remaining))
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(route string, status int, latency time.Duration) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(latency.Seconds())
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}
