// Package metrics exposes storage engine and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"drive-go/internal/drive"
)

// Metrics is the Prometheus implementation of drive.Metrics, plus the HTTP
// request metrics recorded by the API middleware.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups     *prometheus.CounterVec
	quotaRejections  prometheus.Counter
	moveAttempts     *prometheus.CounterVec
	purgedBytes      prometheus.Counter
	purgedEntries    prometheus.Counter
	uploads          *prometheus.CounterVec
	uploadedBytes    prometheus.Counter
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
}

// New registers all collectors in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "drive_listing_cache_lookups_total",
			Help: "Directory listing cache lookups by result",
		}, []string{"result"}),
		quotaRejections: f.NewCounter(prometheus.CounterOpts{
			Name: "drive_quota_rejections_total",
			Help: "Writes rejected because they would exceed the owner's quota",
		}),
		moveAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "drive_move_attempts_total",
			Help: "Move attempts by strategy and outcome",
		}, []string{"strategy", "status"}),
		purgedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "drive_trash_purged_bytes_total",
			Help: "Bytes permanently removed from trash",
		}),
		purgedEntries: f.NewCounter(prometheus.CounterOpts{
			Name: "drive_trash_purged_entries_total",
			Help: "Trash entries permanently removed",
		}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "drive_uploads_total",
			Help: "Uploaded files by outcome",
		}, []string{"status"}),
		uploadedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "drive_uploaded_bytes_total",
			Help: "Bytes stored by successful uploads",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "drive_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "route", "code"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "drive_http_request_duration_milliseconds",
			Help: "Duration of HTTP requests in milliseconds",
			Buckets: []float64{
				1,     // 1ms
				10,    // 10ms
				100,   // 100ms
				1000,  // 1s
				10000, // 10s
			},
		}, []string{"method", "route"}),
		requestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "drive_http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		}),
	}
}

func (m *Metrics) ObserveCacheLookup(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) ObserveQuotaRejection() {
	m.quotaRejections.Inc()
}

func (m *Metrics) ObserveMoveAttempt(strategy string, ok bool) {
	m.moveAttempts.WithLabelValues(strategy, status(ok)).Inc()
}

func (m *Metrics) ObservePurge(bytes int64) {
	m.purgedEntries.Inc()
	m.purgedBytes.Add(float64(bytes))
}

func (m *Metrics) ObserveUpload(bytes int64, ok bool) {
	m.uploads.WithLabelValues(status(ok)).Inc()
	if ok {
		m.uploadedBytes.Add(float64(bytes))
	}
}

// RequestStarted marks a request in flight and returns the function that
// records its completion.
func (m *Metrics) RequestStarted(method, route string) func(code int) {
	start := time.Now()
	m.requestsInFlight.Inc()
	return func(code int) {
		m.requestsInFlight.Dec()
		m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
		m.requestDuration.WithLabelValues(method, route).Observe(float64(time.Since(start).Milliseconds()))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

var _ drive.Metrics = (*Metrics)(nil)
