// Package metrics holds the Prometheus collectors of the service. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeNoIndex  = "no_index"
	OutcomeMismatch = "mismatch"
	OutcomeInvalid  = "invalid"
)

type Metrics struct {
	registry *prometheus.Registry

	IngestTotal    *prometheus.CounterVec
	IngestDuration prometheus.Histogram
	AskTotal       *prometheus.CounterVec
	AskDuration    prometheus.Histogram
	IndexChunks    *prometheus.GaugeVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers all collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		IngestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "askpdf_ingest_total",
			Help: "Ingest runs by outcome",
		}, []string{"outcome"}),

		IngestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "askpdf_ingest_duration_seconds",
			Help:    "Time to extract, chunk, embed and persist one batch",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),

		AskTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "askpdf_ask_total",
			Help: "Questions by outcome",
		}, []string{"outcome"}),

		AskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "askpdf_ask_duration_seconds",
			Help:    "Time to answer one question",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		IndexChunks: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "askpdf_index_chunks",
			Help: "Chunks in the last persisted index per handle",
		}, []string{"handle"}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "askpdf_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "askpdf_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (m *Metrics) ObserveIngest(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(outcome).Inc()
	m.IngestDuration.Observe(took.Seconds())
}

func (m *Metrics) ObserveAsk(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.AskTotal.WithLabelValues(outcome).Inc()
	m.AskDuration.Observe(took.Seconds())
}

func (m *Metrics) SetIndexChunks(handle string, n int) {
	if m == nil {
		return
	}
	m.IndexChunks.WithLabelValues(handle).Set(float64(n))
}

func (m *Metrics) ObserveHTTP(method, path string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(took.Seconds())
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
