package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/pawdentify/internal/events"
)

// ImageCacheMetrics tracks the in-memory image cache and its durable mirror.
// It is fed by registering it as a consumer on the cache event bus.
type ImageCacheMetrics struct {
	Entries         prometheus.Gauge
	Hits            prometheus.Counter
	Misses          prometheus.Counter
	Stores          prometheus.Counter
	Evictions       prometheus.Counter
	Expired         prometheus.Counter
	PreloadOutcomes *prometheus.CounterVec
	Syncs           *prometheus.CounterVec
	Clears          prometheus.Counter
	registry        *prometheus.Registry
}

// NewImageCacheMetrics creates and registers image cache metrics.
func NewImageCacheMetrics(registry *prometheus.Registry) (*ImageCacheMetrics, error) {
	m := &ImageCacheMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register ImageCache metrics: %w", err)
	}
	return m, nil
}

func (m *ImageCacheMetrics) initMetrics() {
	m.Entries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "image_cache_entries",
		Help: "Current number of entries in the image cache.",
	})
	m.Hits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "image_cache_hits_total",
		Help: "Total number of cache hits.",
	})
	m.Misses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "image_cache_misses_total",
		Help: "Total number of cache misses.",
	})
	m.Stores = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "image_cache_stores_total",
		Help: "Total number of entries written to the cache.",
	})
	m.Evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "image_cache_evictions_total",
		Help: "Total number of entries evicted by importance.",
	})
	m.Expired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "image_cache_expired_total",
		Help: "Total number of entries removed after expiry.",
	})
	m.PreloadOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "image_cache_preloads_total",
		Help: "Total number of preload attempts by outcome.",
	}, []string{"outcome"})
	m.Syncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "image_cache_durable_syncs_total",
		Help: "Total number of durable snapshot writes by outcome.",
	}, []string{"outcome"})
	m.Clears = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "image_cache_clears_total",
		Help: "Total number of full cache clears.",
	})
}

// SetEntries sets the current entry count.
func (m *ImageCacheMetrics) SetEntries(n int) {
	m.Entries.Set(float64(n))
}

// Name implements events.EventConsumer.
func (m *ImageCacheMetrics) Name() string { return "image-cache-metrics" }

// ProcessEvent implements events.EventConsumer.
func (m *ImageCacheMetrics) ProcessEvent(event events.CacheEvent) error {
	switch event.Kind {
	case events.KindHit:
		m.Hits.Inc()
	case events.KindMiss:
		m.Misses.Inc()
	case events.KindStored:
		m.Stores.Inc()
	case events.KindEvicted:
		m.Evictions.Inc()
	case events.KindExpired:
		m.Expired.Add(float64(max(event.Count, 1)))
	case events.KindPreloaded:
		m.PreloadOutcomes.WithLabelValues(OutcomeSuccess).Inc()
	case events.KindPreloadFailed:
		m.PreloadOutcomes.WithLabelValues(OutcomeError).Inc()
	case events.KindSynced:
		m.Syncs.WithLabelValues(OutcomeSuccess).Inc()
	case events.KindSyncFailed:
		m.Syncs.WithLabelValues(OutcomeError).Inc()
	case events.KindCleared:
		m.Clears.Inc()
	default:
		return fmt.Errorf("unknown cache event kind %q", event.Kind)
	}
	return nil
}

func (m *ImageCacheMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Entries,
		m.Hits,
		m.Misses,
		m.Stores,
		m.Evictions,
		m.Expired,
		m.PreloadOutcomes,
		m.Syncs,
		m.Clears,
	}
}

// Collect implements the prometheus.Collector interface.
func (m *ImageCacheMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// Describe implements the prometheus.Collector interface.
func (m *ImageCacheMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}
