// Package monitoring holds the Prometheus metrics of the gallery service.
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	ElementsTotal    *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec
	AssetsSaved      prometheus.Counter
	DerivativesTotal *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	RowsInGallery    prometheus.Gauge
}

// NewMetrics registers every collector on a fresh registry, so several
// instances can live in one process (tests, embedded servers).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ElementsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gallery_elements_processed_total",
			Help: "Element pages processed, by outcome.",
		}, []string{"status"}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gallery_errors_total",
			Help: "Errors encountered, by type.",
		}, []string{"type"}), // e.g. scrape_failed, asset_failed, db_save_failed
		AssetsSaved: f.NewCounter(prometheus.CounterOpts{
			Name: "gallery_assets_saved_total",
			Help: "Asset files present after a download attempt.",
		}),
		DerivativesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gallery_derivatives_exported_total",
			Help: "Derivative images written, by derivative key.",
		}, []string{"key"}),
		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gallery_fetch_duration_seconds",
			Help:    "Duration of remote fetches.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"kind", "status"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		RowsInGallery: f.NewGauge(prometheus.GaugeOpts{
			Name: "gallery_rows",
			Help: "Rows in the in-memory gallery table.",
		}),
	}
}

func (m *Metrics) IncElements(status string) {
	m.ElementsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncErrorsTotal(errorType string) {
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// ObserveFetch records one page request; status 0 means a transport failure.
func (m *Metrics) ObserveFetch(kind string, status int, elapsed time.Duration) {
	m.FetchDuration.WithLabelValues(kind, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// ObserveHTTP records one served API request.
func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	m.HTTPRequests.WithLabelValues(method, path, code).Inc()
	m.HTTPDuration.WithLabelValues(method, path, code).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
