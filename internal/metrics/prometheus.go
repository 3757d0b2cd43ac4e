package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// Store metrics
	LoadsTotal              *prometheus.CounterVec
	LoadDuration            prometheus.Histogram
	FlushStatements         *prometheus.CounterVec
	ConcurrentModifications prometheus.Counter

	// Updater metrics
	FlushesTotal  *prometheus.CounterVec
	FlushDuration *prometheus.HistogramVec
	PatchesTotal  *prometheus.CounterVec
	FlushRetries  *prometheus.CounterVec

	// Catch-up metrics
	CatchupPatches *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cvr_loads_total",
				Help: "Total number of client view record loads",
			},
			[]string{"source"},
		),

		LoadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cvr_load_duration_seconds",
				Help:    "Duration of client view record loads",
				Buckets: prometheus.DefBuckets,
			},
		),

		FlushStatements: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cvr_flush_statements_total",
				Help: "Total number of statements executed by flushes",
			},
			[]string{"table"},
		),

		ConcurrentModifications: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cvr_concurrent_modifications_total",
				Help: "Total number of flushes rejected because another writer advanced the record",
			},
		),

		FlushesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cvr_flushes_total",
				Help: "Total number of updater flushes",
			},
			[]string{"updater", "status"},
		),

		FlushDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cvr_flush_duration_seconds",
				Help:    "Duration of updater flushes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"updater"},
		),

		PatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cvr_patches_total",
				Help: "Total number of patches produced by updaters",
			},
			[]string{"family", "op"},
		),

		FlushRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cvr_flush_retries_total",
				Help: "Total number of reload-and-recompute retries after concurrent modification",
			},
			[]string{"operation"},
		),

		CatchupPatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cvr_catchup_patches_total",
				Help: "Total number of patches returned by catch-up reads",
			},
			[]string{"family"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cvr_http_requests_total",
				Help: "Total number of admin HTTP requests",
			},
			[]string{"route", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cvr_http_request_duration_seconds",
				Help:    "Duration of admin HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// RecordLoad records a load and where the snapshot came from
func (m *Metrics) RecordLoad(source string, duration float64) {
	if m == nil {
		return
	}
	m.LoadsTotal.WithLabelValues(source).Inc()
	m.LoadDuration.Observe(duration)
}

// RecordStatements records statements executed against a table
func (m *Metrics) RecordStatements(table string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.FlushStatements.WithLabelValues(table).Add(float64(count))
}

// RecordConcurrentModification records a rejected flush
func (m *Metrics) RecordConcurrentModification() {
	if m == nil {
		return
	}
	m.ConcurrentModifications.Inc()
}

// RecordFlush records an updater flush
func (m *Metrics) RecordFlush(updater, status string, duration float64) {
	if m == nil {
		return
	}
	m.FlushesTotal.WithLabelValues(updater, status).Inc()
	m.FlushDuration.WithLabelValues(updater).Observe(duration)
}

// RecordPatches records patches produced by an updater
func (m *Metrics) RecordPatches(family, op string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.PatchesTotal.WithLabelValues(family, op).Add(float64(count))
}

// RecordFlushRetry records a reload-and-recompute retry
func (m *Metrics) RecordFlushRetry(operation string) {
	if m == nil {
		return
	}
	m.FlushRetries.WithLabelValues(operation).Inc()
}

// RecordCatchupPatches records patches returned by a catch-up read
func (m *Metrics) RecordCatchupPatches(family string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.CatchupPatches.WithLabelValues(family).Add(float64(count))
}

// RecordHTTPRequest records an admin HTTP request
func (m *Metrics) RecordHTTPRequest(route, status string, duration float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration)
}
