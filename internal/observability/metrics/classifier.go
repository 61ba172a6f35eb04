package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ClassifierMetrics tracks calls to the external breed classifier.
type ClassifierMetrics struct {
	Requests   *prometheus.CounterVec
	Duration   prometheus.Histogram
	Confidence prometheus.Histogram
	registry   *prometheus.Registry
}

// NewClassifierMetrics creates and registers classifier metrics.
func NewClassifierMetrics(registry *prometheus.Registry) (*ClassifierMetrics, error) {
	m := &ClassifierMetrics{
		registry: registry,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classifier_requests_total",
			Help: "Total number of classifier predictions by outcome.",
		}, []string{"outcome"}),
		Duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "classifier_request_duration_seconds",
			Help:    "Duration of classifier predictions in seconds.",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount10),
		}),
		Confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "classifier_prediction_confidence",
			Help:    "Confidence of the primary prediction.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register Classifier metrics: %w", err)
	}
	return m, nil
}

// RecordPrediction records a successful prediction.
func (m *ClassifierMetrics) RecordPrediction(durationSeconds, confidence float64) {
	m.Requests.WithLabelValues(OutcomeSuccess).Inc()
	m.Duration.Observe(durationSeconds)
	m.Confidence.Observe(confidence)
}

// RecordFailure records a failed prediction.
func (m *ClassifierMetrics) RecordFailure(durationSeconds float64) {
	m.Requests.WithLabelValues(OutcomeError).Inc()
	m.Duration.Observe(durationSeconds)
}

// Collect implements the prometheus.Collector interface.
func (m *ClassifierMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Requests.Collect(ch)
	m.Duration.Collect(ch)
	m.Confidence.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *ClassifierMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Requests.Describe(ch)
	m.Duration.Describe(ch)
	m.Confidence.Describe(ch)
}
