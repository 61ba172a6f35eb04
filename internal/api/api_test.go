package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pawdentify/internal/breedimages"
	"github.com/tphakala/pawdentify/internal/breeds"
	"github.com/tphakala/pawdentify/internal/buildinfo"
	"github.com/tphakala/pawdentify/internal/classifier"
	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/events"
	"github.com/tphakala/pawdentify/internal/imagecache"
	"github.com/tphakala/pawdentify/internal/imageprovider"
	"github.com/tphakala/pawdentify/internal/logger"
	"github.com/tphakala/pawdentify/internal/observability"
)

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

type stubSource struct {
	calls       atomic.Int32
	reachChecks atomic.Int32
}

func (s *stubSource) Probe(context.Context) error {
	s.reachChecks.Add(1)
	return nil
}

func (s *stubSource) Name() imageprovider.SourceName { return imageprovider.SourceDogCEO }
func (s *stubSource) Available() bool                { return true }

func (s *stubSource) FetchImages(_ context.Context, rec breeds.Record, count int) ([]imageprovider.ImageDescriptor, error) {
	s.calls.Add(1)
	out := make([]imageprovider.ImageDescriptor, count)
	for i := range count {
		out[i] = imageprovider.ImageDescriptor{
			ID:      fmt.Sprintf("%s-%d", rec.ClassifierLabel, i),
			URL:     fmt.Sprintf("https://images.dog.ceo/breeds/%s/%d.jpg", strings.ToLower(rec.ClassifierLabel), i),
			Source:  imageprovider.SourceDogCEO,
			Quality: imageprovider.SourceDogCEO.Quality(),
		}
	}
	return out, nil
}

type stubPredictor struct {
	pred classifier.Prediction
	err  error
}

func (p stubPredictor) Predict(_ context.Context, r io.Reader, _ string) (classifier.Prediction, error) {
	_, _ = io.Copy(io.Discard, r)
	return p.pred, p.err
}

type testEnv struct {
	server  *Server
	service *breedimages.Service
	metrics *observability.Metrics
	source  *stubSource
}

type envOptions struct {
	config    Config
	predictor classifier.Predictor
	noBus     bool
}

func newTestEnv(t *testing.T, eo envOptions) testEnv {
	t.Helper()
	log := testLogger()

	resolver, err := breeds.NewResolver(nil, log)
	require.NoError(t, err)

	source := &stubSource{}
	agg := imageprovider.NewAggregator([]imageprovider.ImageSource{source},
		imageprovider.WithAggregatorLogger(log))

	cacheOpts := []imagecache.Option{imagecache.WithLogger(log)}
	svcOpts := []breedimages.Option{breedimages.WithLogger(log)}
	if !eo.noBus {
		bus := events.NewEventBus(&events.Config{BufferSize: 64, Workers: 1}, log)
		t.Cleanup(func() { _ = bus.Shutdown(time.Second) })
		cacheOpts = append(cacheOpts, imagecache.WithEventBus(bus))
		svcOpts = append(svcOpts, breedimages.WithEventBus(bus))
	}
	if eo.predictor != nil {
		svcOpts = append(svcOpts, breedimages.WithClassifier(eo.predictor))
	}

	cache := imagecache.NewManager(imagecache.Config{}, cacheOpts...)
	svc, err := breedimages.New(resolver, agg, cache, svcOpts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	m, err := observability.NewMetrics()
	require.NoError(t, err)

	srv, err := New(svc, eo.config,
		WithLogger(log),
		WithMetrics(m),
		WithBuildInfo(buildinfo.NewContext("v1.4.0", "2026-09-01")),
		WithHeartbeat(50*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return testEnv{server: srv, service: svc, metrics: m, source: source}
}

func (e testEnv) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewRequiresService(t *testing.T) {
	t.Parallel()
	_, err := New(nil, Config{})
	require.Error(t, err)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/api/v1/health", http.NoBody, "")
	require.Equal(t, http.StatusOK, rec.Code)

	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "v1.4.0", health.Version)
	assert.Equal(t, "2026-09-01", health.BuildDate)
	require.Len(t, health.Sources, 1)
	assert.Equal(t, imageprovider.SourceDogCEO, health.Sources[0].Name)
}

func TestHealthCheckReachabilityIsMemoized(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOptions{})

	for range 3 {
		rec := env.do(t, http.MethodGet, "/api/v1/health?probe=true", http.NoBody, "")
		require.Equal(t, http.StatusOK, rec.Code)
		health := decode[HealthResponse](t, rec)
		require.Len(t, health.Sources, 1)
		require.NotNil(t, health.Sources[0].Reachable)
		assert.True(t, *health.Sources[0].Reachable)
	}
	assert.Equal(t, int32(1), env.source.reachChecks.Load())

	// a plain health check never contacts the sources
	rec := env.do(t, http.MethodGet, "/api/v1/health", http.NoBody, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), env.source.reachChecks.Load())
}

func TestListBreeds(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/api/v1/breeds", http.NoBody, "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[[]breeds.Record](t, rec)
	assert.Len(t, all, 120)

	rec = env.do(t, http.MethodGet, "/api/v1/breeds?q=terrier", http.NoBody, "")
	require.Equal(t, http.StatusOK, rec.Code)
	terriers := decode[[]breeds.Record](t, rec)
	require.NotEmpty(t, terriers)
	assert.Less(t, len(terriers), len(all))
	labels := make([]string, 0, len(terriers))
	for _, r := range terriers {
		labels = append(labels, r.ClassifierLabel)
	}
	assert.Contains(t, labels, "Yorkshire_terrier")

	// the filter folds separators the same way breed resolution does
	rec = env.do(t, http.MethodGet, "/api/v1/breeds?q=german-shepherd", http.NoBody, "")
	require.Equal(t, http.StatusOK, rec.Code)
	shepherds := decode[[]breeds.Record](t, rec)
	require.Len(t, shepherds, 1)
	assert.Equal(t, "German_shepherd", shepherds[0].ClassifierLabel)

	rec = env.do(t, http.MethodGet, "/api/v1/breeds?q=alsatian", http.NoBody, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]breeds.Record](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/v1/breeds?q=qwertyunicorn", http.NoBody, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestGetBreedImages(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/api/v1/breeds/Pug/images?count=4", http.NoBody, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[breedimages.Result](t, rec)
	assert.True(t, first.Success)
	assert.Equal(t, "Pug", first.BreedName)
	assert.Len(t, first.Images, 4)
	require.NotNil(t, first.Metadata)
	assert.False(t, first.Metadata.Cached)

	rec = env.do(t, http.MethodGet, "/api/v1/breeds/pug/images?count=4", http.NoBody, "")
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[breedimages.Result](t, rec)
	assert.True(t, second.Metadata.Cached)
	assert.Equal(t, int32(1), env.source.calls.Load())

	rec = env.do(t, http.MethodGet, "/api/v1/breeds/pug/images?count=4&refresh=true", http.NoBody, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[breedimages.Result](t, rec).Metadata.Cached)
	assert.Equal(t, int32(2), env.source.calls.Load())
}

func TestGetBreedImagesEscapedName(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/api/v1/breeds/Yorkshire%20Terrier/images", http.NoBody, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[breedimages.Result](t, rec)
	assert.Equal(t, "Yorkshire_terrier", res.ClassifierLabel)
	assert.Len(t, res.Images, breedimages.DefaultImageCount)
}

func TestGetBreedImagesErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOptions{})

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"bad count", "/api/v1/breeds/pug/images?count=many", http.StatusBadRequest},
		{"bad bool", "/api/v1/breeds/pug/images?quality=perhaps", http.StatusBadRequest},
		{"unknown breed without fallbacks", "/api/v1/breeds/Qwerty%20Unicorn/images?fallbacks=false", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.target, http.NoBody, "")
			require.Equal(t, tt.want, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.want, resp.Code)
			assert.NotEmpty(t, resp.CorrelationID)
			assert.Equal(t, rec.Header().Get("X-Request-Id"), resp.CorrelationID)
		})
	}
}

func TestGetBreedImagesUnknownBreedPlaceholders(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/api/v1/breeds/Qwerty%20Unicorn/images?count=3", http.NoBody, "")
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[breedimages.Result](t, rec)
	require.Len(t, res.Images, 3)
	for _, img := range res.Images {
		assert.True(t, img.IsFallback)
	}
	assert.Zero(t, env.source.calls.Load())
}

func TestMultiBreedImages(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOptions{})

	body := `{"breeds":[{"breed":"beagle","confidence":0.35},{"breed":"pug","confidence":0.6}],"options":{"imageCount":4,"includeFallbacks":true}}`
	rec := env.do(t, http.MethodPost, "/api/v1/breeds/images", strings.NewReader(body), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[breedimages.Result](t, rec)
	assert.True(t, res.IsMultiBreed)
	assert.Equal(t, "Pug × Beagle", res.BreedName)
	assert.Len(t, res.Images, 4)
	assert.Equal(t, "Pug", res.Images[0].ParentBreed)
	require.NotNil(t, res.Metadata)
	assert.Len(t, res.Metadata.Breakdown, 2)

	rec = env.do(t, http.MethodPost, "/api/v1/breeds/images", strings.NewReader(`{"breeds":[]}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/breeds/images", strings.NewReader(`{"breeds":`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func multipartImage(t *testing.T, field string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, "rex.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("\xff\xd8\xff\xe0 not really a jpeg"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestIdentify(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOptions{predictor: stubPredictor{pred: classifier.Prediction{
		PredictedClass: "pug",
		Confidence:     0.91,
	}}})

	body, ct := multipartImage(t, "file")
	rec := env.do(t, http.MethodPost, "/api/v1/identify?count=2", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[breedimages.Result](t, rec)
	assert.Equal(t, "pug", res.ClassifierLabel)
	assert.Len(t, res.Images, 2)
	require.NotNil(t, res.Metadata)
	assert.InDelta(t, 0.91, res.Metadata.PredictionConfidence, 1e-9)
}

func TestIdentifyErrors(t *testing.T) {
	t.Parallel()

	classifierDown := errors.Newf("classifier returned status 500").
		Component("classifier").
		Category(errors.CategoryClassifier).
		Build()

	tests := []struct {
		name      string
		predictor classifier.Predictor
		field     string
		want      int
	}{
		{"missing file field", stubPredictor{}, "photo", http.StatusBadRequest},
		{"classifier failure", stubPredictor{err: classifierDown}, "file", http.StatusBadGateway},
		{"classifier not configured", nil, "file", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, envOptions{predictor: tt.predictor})
			body, ct := multipartImage(t, tt.field)
			rec := env.do(t, http.MethodPost, "/api/v1/identify", body, ct)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).CorrelationID)
		})
	}
}

func TestPreload(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOptions{})

	body := `{"breeds":["Pug","Beagle","Qwerty Unicorn"],"favorites":["Beagle"]}`
	rec := env.do(t, http.MethodPost, "/api/v1/preload", strings.NewReader(body), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decode[imagecache.PreloadReport](t, rec)
	assert.ElementsMatch(t, []string{"pug", "beagle"}, report.Succeeded)
	assert.Contains(t, report.Failed, "Qwerty Unicorn")
	require.NotEmpty(t, report.Ranked)
	assert.Equal(t, "beagle", report.Ranked[0].Breed)

	rec = env.do(t, http.MethodPost, "/api/v1/preload", strings.NewReader(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheStatsAndClear(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOptions{})

	env.do(t, http.MethodGet, "/api/v1/breeds/pug/images", http.NoBody, "")
	env.do(t, http.MethodGet, "/api/v1/breeds/pug/images", http.NoBody, "")
	env.do(t, http.MethodGet, "/api/v1/breeds/beagle/images", http.NoBody, "")

	rec := env.do(t, http.MethodGet, "/api/v1/cache/stats", http.NoBody, "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[imagecache.Stats](t, rec)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)

	rec = env.do(t, http.MethodDelete, "/api/v1/cache/Pug", http.NoBody, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ClearResponse{Breed: "Pug", Removed: 1}, decode[ClearResponse](t, rec))

	rec = env.do(t, http.MethodDelete, "/api/v1/cache/Qwerty%20Unicorn", http.NoBody, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/v1/cache", http.NoBody, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ClearResponse](t, rec).Removed)
	assert.Zero(t, env.service.Stats().Entries)
}

func TestUnknownRouteUsesErrorShape(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodGet, "/api/v1/kennels", http.NoBody, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.NotEmpty(t, resp.CorrelationID)
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOptions{config: Config{BodyLimit: "1K"}})

	big := fmt.Sprintf(`{"breeds":["%s"]}`, strings.Repeat("a", 4096))
	rec := env.do(t, http.MethodPost, "/api/v1/preload", strings.NewReader(big), "application/json")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOptions{})

	env.do(t, http.MethodGet, "/api/v1/breeds/pug/images", http.NoBody, "")
	rec := env.do(t, http.MethodGet, "/metrics", http.NoBody, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `http_requests_total{method="GET",path="/api/v1/breeds/:name/images",status_code="200"} 1`)
	assert.Contains(t, body, "image_cache_entries")
}

// readEvent reads stream lines until an event of the given kind arrives
func readEvent(t *testing.T, r *bufio.Reader, kind events.CacheEventKind) cacheEventMessage {
	t.Helper()
	var current string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			current = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && current == string(kind):
			var msg cacheEventMessage
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg))
			return msg
		}
	}
}

func TestCacheEventStream(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOptions{})

	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/cache/events", http.NoBody)
	require.NoError(t, err)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)
	assert.InDelta(t, 1, env.metrics.HTTP.GetActiveSSEConnections(), 0)

	env.do(t, http.MethodGet, "/api/v1/breeds/pug/images", http.NoBody, "")

	miss := readEvent(t, reader, events.KindMiss)
	assert.True(t, strings.HasPrefix(miss.Key, "pug|"), miss.Key)
	stored := readEvent(t, reader, events.KindStored)
	assert.Equal(t, "pug", stored.Breed)

	cancel()
	assert.Eventually(t, func() bool {
		return env.metrics.HTTP.GetActiveSSEConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCacheEventStreamWithoutBus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOptions{noBus: true})

	rec := env.do(t, http.MethodGet, "/api/v1/cache/events", http.NoBody, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStartAndShutdown(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envOptions{config: Config{Listen: "127.0.0.1:0", ShutdownTimeout: time.Second}})

	require.NoError(t, env.server.Start())
	addr := env.server.Address()
	require.NotEqual(t, "127.0.0.1:0", addr)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/api/v1/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, env.server.Shutdown(context.Background()))
	_, err := http.Get("http://" + addr + "/api/v1/health")
	assert.Error(t, err)
}
