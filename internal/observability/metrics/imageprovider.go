package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ImageProviderMetrics contains Prometheus metrics for image source calls
// and result aggregation.
type ImageProviderMetrics struct {
	SourceRequests      *prometheus.CounterVec
	SourceErrors        *prometheus.CounterVec
	SourceDuration      *prometheus.HistogramVec
	ImagesReturned      *prometheus.CounterVec
	AggregationDuration prometheus.Histogram
	PlaceholdersPadded  prometheus.Counter
	registry            *prometheus.Registry
}

// NewImageProviderMetrics creates and registers image provider metrics.
func NewImageProviderMetrics(registry *prometheus.Registry) (*ImageProviderMetrics, error) {
	m := &ImageProviderMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register ImageProvider metrics: %w", err)
	}
	return m, nil
}

func (m *ImageProviderMetrics) initMetrics() {
	m.SourceRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "image_provider_source_requests_total",
		Help: "Total number of image source requests by source and outcome.",
	}, []string{"source", "outcome"})

	m.SourceErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "image_provider_source_errors_total",
		Help: "Total number of image source failures by source and error kind.",
	}, []string{"source", "kind"})

	m.SourceDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "image_provider_source_duration_seconds",
		Help:    "Duration of image source requests in seconds.",
		Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount10),
	}, []string{"source"})

	m.ImagesReturned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "image_provider_images_returned_total",
		Help: "Total number of image descriptors returned by each source.",
	}, []string{"source"})

	m.AggregationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "image_provider_aggregation_duration_seconds",
		Help:    "Duration of a full multi-source aggregation in seconds.",
		Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount10),
	})

	m.PlaceholdersPadded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "image_provider_placeholders_padded_total",
		Help: "Total number of placeholder descriptors added to fill results.",
	})
}

// RecordSourceRequest records one source call and its outcome.
func (m *ImageProviderMetrics) RecordSourceRequest(source, outcome string, durationSeconds float64, images int) {
	m.SourceRequests.WithLabelValues(source, outcome).Inc()
	m.SourceDuration.WithLabelValues(source).Observe(durationSeconds)
	if images > 0 {
		m.ImagesReturned.WithLabelValues(source).Add(float64(images))
	}
}

// RecordSourceError records a source failure by kind.
func (m *ImageProviderMetrics) RecordSourceError(source, kind string) {
	m.SourceErrors.WithLabelValues(source, kind).Inc()
}

// ObserveAggregation records an aggregation and how many placeholders it needed.
func (m *ImageProviderMetrics) ObserveAggregation(durationSeconds float64, placeholders int) {
	m.AggregationDuration.Observe(durationSeconds)
	if placeholders > 0 {
		m.PlaceholdersPadded.Add(float64(placeholders))
	}
}

func (m *ImageProviderMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SourceRequests,
		m.SourceErrors,
		m.SourceDuration,
		m.ImagesReturned,
		m.AggregationDuration,
		m.PlaceholdersPadded,
	}
}

// Collect implements the prometheus.Collector interface.
func (m *ImageProviderMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *ImageProviderMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}
