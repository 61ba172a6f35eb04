package observability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pawdentify/internal/events"
	"github.com/tphakala/pawdentify/internal/logger"
)

// TestNewMetricsConcurrency verifies that each call builds an isolated registry
func TestNewMetricsConcurrency(t *testing.T) {
	const numGoroutines = 20

	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines)

	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if err != nil {
				errs <- err
				return
			}
			if m.ImageProvider == nil || m.ImageCache == nil || m.Classifier == nil || m.HTTP == nil {
				errs <- fmt.Errorf("collector not initialized")
			}
		})
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestImageCacheMetricsConsumeEvents(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	cacheEvents := []events.CacheEvent{
		{Kind: events.KindHit},
		{Kind: events.KindHit},
		{Kind: events.KindMiss},
		{Kind: events.KindExpired, Count: 3},
		{Kind: events.KindPreloaded},
		{Kind: events.KindPreloadFailed},
		{Kind: events.KindSyncFailed},
	}
	for _, e := range cacheEvents {
		require.NoError(t, m.ImageCache.ProcessEvent(e))
	}
	require.Error(t, m.ImageCache.ProcessEvent(events.CacheEvent{Kind: "bogus"}))
	m.ImageCache.SetEntries(12)

	families := gather(t, m)
	assert.InDelta(t, 2, counterValue(families["image_cache_hits_total"], nil), 0)
	assert.InDelta(t, 1, counterValue(families["image_cache_misses_total"], nil), 0)
	assert.InDelta(t, 3, counterValue(families["image_cache_expired_total"], nil), 0)
	assert.InDelta(t, 1, counterValue(families["image_cache_preloads_total"], map[string]string{"outcome": "success"}), 0)
	assert.InDelta(t, 1, counterValue(families["image_cache_preloads_total"], map[string]string{"outcome": "error"}), 0)
	assert.InDelta(t, 1, counterValue(families["image_cache_durable_syncs_total"], map[string]string{"outcome": "error"}), 0)
	assert.InDelta(t, 12, families["image_cache_entries"].GetMetric()[0].GetGauge().GetValue(), 0)
}

func TestImageProviderMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.ImageProvider.RecordSourceRequest("dog-ceo", "success", 0.12, 6)
	m.ImageProvider.RecordSourceRequest("unsplash", "rate_limited", 0.01, 0)
	m.ImageProvider.RecordSourceError("unsplash", "RateLimited")
	m.ImageProvider.ObserveAggregation(0.2, 2)

	families := gather(t, m)
	assert.InDelta(t, 1, counterValue(families["image_provider_source_requests_total"],
		map[string]string{"source": "dog-ceo", "outcome": "success"}), 0)
	assert.InDelta(t, 6, counterValue(families["image_provider_images_returned_total"],
		map[string]string{"source": "dog-ceo"}), 0)
	assert.InDelta(t, 2, counterValue(families["image_provider_placeholders_padded_total"], nil), 0)
	assert.NotContains(t, families, "image_provider_images_returned_total_unsplash")
}

func TestHTTPMetricsSSEGauge(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	m.HTTP.SSEConnectionStarted()
	m.HTTP.SSEConnectionStarted()
	m.HTTP.SSEConnectionClosed()

	assert.InDelta(t, 1, m.HTTP.GetActiveSSEConnections(), 0)
}

func TestEndpointServesMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.Classifier.RecordPrediction(0.5, 0.91)

	_, err = NewEndpoint("", m, nil)
	require.Error(t, err)

	endpoint, err := NewEndpoint("127.0.0.1:0", m, logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)
	require.NoError(t, endpoint.Start(ctx))
	t.Cleanup(endpoint.Shutdown)

	resp, err := http.Get("http://" + endpoint.Address() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `classifier_requests_total{outcome="success"} 1`)
}

func gather(t *testing.T, m *Metrics) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}
	return byName
}

// counterValue returns the counter matching all labels, or 0
func counterValue(family *dto.MetricFamily, labels map[string]string) float64 {
	if family == nil {
		return 0
	}
	for _, metric := range family.GetMetric() {
		matched := 0
		for _, pair := range metric.GetLabel() {
			if want, ok := labels[pair.GetName()]; ok && want == pair.GetValue() {
				matched++
			}
		}
		if matched == len(labels) {
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}
