package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// HTTPMetrics covers the REST API and the cache event stream. Paths are
// echo route patterns such as /api/v1/breeds/:name/images, never raw URLs.
type HTTPMetrics struct {
	Requests      *prometheus.CounterVec
	Latency       *prometheus.HistogramVec
	Errors        *prometheus.CounterVec
	ResponseBytes *prometheus.HistogramVec
	StreamClients prometheus.Gauge
	StreamEvents  *prometheus.CounterVec
	registry      *prometheus.Registry
}

// NewHTTPMetrics creates and registers HTTP API metrics.
func NewHTTPMetrics(registry *prometheus.Registry) (*HTTPMetrics, error) {
	m := &HTTPMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register HTTP metrics: %w", err)
	}
	return m, nil
}

func (m *HTTPMetrics) initMetrics() {
	m.Requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of API requests by route and status.",
	}, []string{"method", "path", "status_code"})
	m.Latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "API request latency by route.",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
	}, []string{"method", "path"})
	// error_type is one of validation, not_found, classifier or system
	m.Errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_request_errors_total",
		Help: "Total number of failed API requests by error type.",
	}, []string{"method", "path", "error_type"})
	m.ResponseBytes = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_response_size_bytes",
		Help:    "API response size in bytes.",
		Buckets: prometheus.ExponentialBuckets(BucketStart100B, BucketFactor10, BucketCount6),
	}, []string{"method", "path"})
	m.StreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_sse_active_connections",
		Help: "Clients currently subscribed to the cache event stream.",
	})
	m.StreamEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_sse_messages_sent_total",
		Help: "Total number of cache events streamed to clients by kind.",
	}, []string{"kind"})
}

// RecordHTTPRequest counts a finished request and its latency in seconds.
func (m *HTTPMetrics) RecordHTTPRequest(method, path string, statusCode int, duration float64) {
	m.Requests.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.Latency.WithLabelValues(method, path).Observe(duration)
}

func (m *HTTPMetrics) RecordHTTPRequestError(method, path, errorType string) {
	m.Errors.WithLabelValues(method, path, errorType).Inc()
}

func (m *HTTPMetrics) RecordHTTPResponseSize(method, path string, sizeBytes int64) {
	m.ResponseBytes.WithLabelValues(method, path).Observe(float64(sizeBytes))
}

func (m *HTTPMetrics) SSEConnectionStarted() { m.StreamClients.Inc() }

func (m *HTTPMetrics) SSEConnectionClosed() { m.StreamClients.Dec() }

func (m *HTTPMetrics) RecordSSEMessageSent(kind string) {
	m.StreamEvents.WithLabelValues(kind).Inc()
}

// GetActiveSSEConnections reads the stream gauge back, mainly for tests.
func (m *HTTPMetrics) GetActiveSSEConnections() float64 {
	var metric dto.Metric
	if err := m.StreamClients.Write(&metric); err != nil {
		return 0
	}
	return metric.GetGauge().GetValue()
}

func (m *HTTPMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Requests,
		m.Latency,
		m.Errors,
		m.ResponseBytes,
		m.StreamClients,
		m.StreamEvents,
	}
}

// Collect implements the prometheus.Collector interface.
func (m *HTTPMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *HTTPMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}
