// Package metrics provides Prometheus metrics for tabledger.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/tabledger/internal/core"
)

const namespace = "tabledger"

// Metrics holds all ingestion metrics. It implements core.Recorder.
// A disabled Metrics records nothing and serves an empty registry.
type Metrics struct {
	// Counters
	Loads       *prometheus.CounterVec
	RowsWritten *prometheus.CounterVec
	Harmonized  prometheus.Counter
	Failures    *prometheus.CounterVec
	BatchRuns   *prometheus.CounterVec

	// Histograms
	IngestDuration    *prometheus.HistogramVec
	HarmonizeDuration prometheus.Histogram
	RequestDuration   *prometheus.HistogramVec

	registry *prometheus.Registry
	enabled  bool
}

var _ core.Recorder = (*Metrics)(nil)

// New creates a metrics instance with its own registry.
func New(enabled bool) *Metrics {
	m := &Metrics{
		enabled:  enabled,
		registry: prometheus.NewRegistry(),
	}
	if !enabled {
		return m
	}

	m.Loads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Committed generations by table",
		},
		[]string{"table"},
	)

	m.RowsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows appended by table",
		},
		[]string{"table"},
	)

	m.Harmonized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "harmonized_tables_total",
			Help:      "Tables copied forward by harmonize",
		},
	)

	m.Failures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Failed operations by operation and error code",
		},
		[]string{"op", "code"},
	)

	m.BatchRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_runs_total",
			Help:      "Batch descriptor runs by status",
		},
		[]string{"status"}, // "success", "error"
	)

	m.IngestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time to commit one ingest",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"table"},
	)

	m.HarmonizeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "harmonize_duration_seconds",
			Help:      "Time to commit one harmonize",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	m.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	m.registry.MustRegister(
		m.Loads,
		m.RowsWritten,
		m.Harmonized,
		m.Failures,
		m.BatchRuns,
		m.IngestDuration,
		m.HarmonizeDuration,
		m.RequestDuration,
	)
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// IsEnabled returns true if metrics are enabled.
func (m *Metrics) IsEnabled() bool {
	return m.enabled
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IngestCompleted records one committed generation of table.
func (m *Metrics) IngestCompleted(table string, rows int64, d time.Duration) {
	if !m.enabled {
		return
	}
	m.Loads.WithLabelValues(table).Inc()
	m.RowsWritten.WithLabelValues(table).Add(float64(rows))
	m.IngestDuration.WithLabelValues(table).Observe(d.Seconds())
}

// HarmonizeCompleted records one committed harmonize over tables.
func (m *Metrics) HarmonizeCompleted(tables int, d time.Duration) {
	if !m.enabled {
		return
	}
	m.Harmonized.Add(float64(tables))
	m.HarmonizeDuration.Observe(d.Seconds())
}

// OperationFailed records a failed operation by its user-facing code.
func (m *Metrics) OperationFailed(op, code string) {
	if !m.enabled {
		return
	}
	m.Failures.WithLabelValues(op, code).Inc()
}

// RecordBatchRun counts a finished batch run.
func (m *Metrics) RecordBatchRun(success bool) {
	if !m.enabled {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.BatchRuns.WithLabelValues(status).Inc()
}

// WatchGate exports the writer gate state as gauges.
func (m *Metrics) WatchGate(g *core.WriterGate) {
	if !m.enabled || g == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "writer_busy",
			Help:      "1 while a write holds the writer gate",
		}, func() float64 {
			if g.Status().Busy {
				return 1
			}
			return 0
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "writer_waiting",
			Help:      "Writes queued on the writer gate",
		}, func() float64 {
			return float64(g.Status().Waiting)
		}),
	)
}

// Middleware observes request latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if !m.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}
