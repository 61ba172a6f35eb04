package imageprovider

import (
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const notFoundBody = `{"status":"error","message":"Breed not found (master breed does not exist)","code":404}`

func newTestDogCEO(t *testing.T, cfg DogCEOConfig, opts ...SourceOption) (*DogCEOSource, *httpmock.MockTransport) {
	t.Helper()
	client, mock := newMockClient(t)
	if cfg.BaseURL == "" {
		cfg.BaseURL = testDogCEOBase
	}
	opts = append([]SourceOption{WithLogger(testLogger())}, opts...)
	return NewDogCEOSource(client, cfg, opts...), mock
}

// pathRecorder records request paths in arrival order
type pathRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (p *pathRecorder) record(req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, req.URL.Path)
}

func (p *pathRecorder) get() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.paths)
}

func TestDogCEOFetchDirectHit(t *testing.T) {
	t.Parallel()
	src, mock := newTestDogCEO(t, DogCEOConfig{})

	mock.RegisterResponder(http.MethodGet, testDogCEOBase+"/breed/terrier/yorkshire/images",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"success","message":[
			"https://images.dog.test/breeds/terrier-yorkshire/a.jpg",
			"https://images.dog.test/breeds/terrier-yorkshire/b.jpg",
			"https://images.dog.test/breeds/terrier-yorkshire/c.jpg"]}`))

	images, err := src.FetchImages(t.Context(), yorkshireRecord(), 2)
	require.NoError(t, err)
	require.Len(t, images, 2)

	first := images[0]
	assert.Equal(t, "https://images.dog.test/breeds/terrier-yorkshire/a.jpg", first.URL)
	assert.Equal(t, first.URL, first.ThumbnailURL)
	assert.Equal(t, SourceDogCEO, first.Source)
	assert.Equal(t, QualityStandard, first.Quality)
	assert.False(t, first.IsFallback)
	assert.Nil(t, first.Attribution)
	assert.Equal(t, "dogceo_yorkshire_terrier_0", first.ID)
	// "terrier yorkshire" read backwards matches the display name, not the synonym
	assert.InDelta(t, 0.5, first.BreedRelevance, 0.0001)

	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestDogCEOFallbackChainOrder(t *testing.T) {
	t.Parallel()
	src, mock := newTestDogCEO(t, DogCEOConfig{})

	rec := &pathRecorder{}
	mock.RegisterNoResponder(func(req *http.Request) (*http.Response, error) {
		rec.record(req)
		if req.URL.Path == "/api/breeds/image/random/3" {
			return httpmock.NewStringResponse(http.StatusOK,
				`{"status":"success","message":["https://images.dog.test/breeds/pug/1.jpg","https://images.dog.test/breeds/pug/2.jpg","https://images.dog.test/breeds/pug/3.jpg"]}`), nil
		}
		return httpmock.NewStringResponse(http.StatusNotFound, notFoundBody), nil
	})

	images, err := src.FetchImages(t.Context(), yorkshireRecord(), 3)
	require.NoError(t, err)
	assert.Len(t, images, 3)

	assert.Equal(t, []string{
		"/api/breed/terrier/yorkshire/images",
		"/api/breed/yorkshireterrier/images",
		"/api/breed/yorkie/images",
		"/api/breed/yorkshire/images",
		"/api/breed/terrier/images",
		"/api/breeds/image/random/3",
	}, rec.get())
}

func TestDogCEOFallbackStopsAtFirstSuccess(t *testing.T) {
	t.Parallel()
	src, mock := newTestDogCEO(t, DogCEOConfig{})

	rec := &pathRecorder{}
	mock.RegisterNoResponder(func(req *http.Request) (*http.Response, error) {
		rec.record(req)
		if req.URL.Path == "/api/breed/yorkshire/images" {
			return httpmock.NewStringResponse(http.StatusOK,
				`{"status":"success","message":["https://images.dog.test/breeds/yorkshire/1.jpg"]}`), nil
		}
		return httpmock.NewStringResponse(http.StatusNotFound, notFoundBody), nil
	})

	images, err := src.FetchImages(t.Context(), yorkshireRecord(), 4)
	require.NoError(t, err)
	require.Len(t, images, 1)

	paths := rec.get()
	assert.Equal(t, "/api/breed/yorkshire/images", paths[len(paths)-1])
	assert.NotContains(t, paths, "/api/breed/terrier/images")
	assert.NotContains(t, paths, "/api/breeds/image/random/4")
}

func TestDogCEOStatusErrorInBody(t *testing.T) {
	t.Parallel()
	src, mock := newTestDogCEO(t, DogCEOConfig{})

	// some deployments answer 200 with status "error"
	rec := &pathRecorder{}
	mock.RegisterNoResponder(func(req *http.Request) (*http.Response, error) {
		rec.record(req)
		if req.URL.Path == "/api/breed/terrier/images" {
			return httpmock.NewStringResponse(http.StatusOK,
				`{"status":"success","message":["https://images.dog.test/breeds/terrier-toy/1.jpg"]}`), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"status":"error","message":"Breed not found"}`), nil
	})

	images, err := src.FetchImages(t.Context(), yorkshireRecord(), 1)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "/api/breed/terrier/images", rec.get()[len(rec.get())-1])
}

func TestDogCEOEveryFetchWalksFullChain(t *testing.T) {
	t.Parallel()
	src, mock := newTestDogCEO(t, DogCEOConfig{})

	var primaryUp atomic.Bool
	rec := &pathRecorder{}
	mock.RegisterNoResponder(func(req *http.Request) (*http.Response, error) {
		rec.record(req)
		switch {
		case req.URL.Path == "/api/breed/terrier/yorkshire/images" && primaryUp.Load():
			return httpmock.NewStringResponse(http.StatusOK,
				`{"status":"success","message":["https://images.dog.test/breeds/terrier-yorkshire/1.jpg"]}`), nil
		case req.URL.Path == "/api/breed/terrier/images":
			return httpmock.NewStringResponse(http.StatusOK,
				`{"status":"success","message":["https://images.dog.test/breeds/terrier/1.jpg"]}`), nil
		}
		return httpmock.NewStringResponse(http.StatusNotFound, notFoundBody), nil
	})

	images, err := src.FetchImages(t.Context(), yorkshireRecord(), 1)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "https://images.dog.test/breeds/terrier/1.jpg", images[0].URL)
	first := rec.get()
	require.Len(t, first, 5)

	// the same misses are requested again on the next call
	_, err = src.FetchImages(t.Context(), yorkshireRecord(), 1)
	require.NoError(t, err)
	assert.Equal(t, first, rec.get()[5:])

	// once the record's own key answers it wins again
	primaryUp.Store(true)
	images, err = src.FetchImages(t.Context(), yorkshireRecord(), 1)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "https://images.dog.test/breeds/terrier-yorkshire/1.jpg", images[0].URL)
	paths := rec.get()
	assert.Equal(t, "/api/breed/terrier/yorkshire/images", paths[len(paths)-1])
}

func TestDogCEOAlternateStepFailuresContinueChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		responder httpmock.Responder
	}{
		{"network failure", httpmock.NewErrorResponder(assert.AnError)},
		{"malformed json", httpmock.NewStringResponder(http.StatusOK, `<html>oops</html>`)},
		{"server error", httpmock.NewStringResponder(http.StatusBadGateway, `bad gateway`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src, mock := newTestDogCEO(t, DogCEOConfig{})
			rec := &pathRecorder{}
			mock.RegisterNoResponder(func(req *http.Request) (*http.Response, error) {
				rec.record(req)
				switch req.URL.Path {
				case "/api/breed/terrier/yorkshire/images":
					return httpmock.NewStringResponse(http.StatusNotFound, notFoundBody), nil
				case "/api/breed/terrier/images":
					return httpmock.NewStringResponse(http.StatusOK,
						`{"status":"success","message":["https://images.dog.test/breeds/terrier/1.jpg"]}`), nil
				}
				return tt.responder(req)
			})

			images, err := src.FetchImages(t.Context(), yorkshireRecord(), 1)
			require.NoError(t, err)
			require.Len(t, images, 1)
			assert.Equal(t, "https://images.dog.test/breeds/terrier/1.jpg", images[0].URL)
			paths := rec.get()
			assert.Len(t, paths, 5)
			assert.Equal(t, "/api/breed/terrier/images", paths[len(paths)-1])
		})
	}
}

func TestDogCEORateLimitFailsFast(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	src, mock := newTestDogCEO(t, DogCEOConfig{RequestLimit: 1, Window: time.Hour}, WithClock(clock.Now))

	mock.RegisterResponder(http.MethodGet, testDogCEOBase+"/breed/terrier/yorkshire/images",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"success","message":["https://images.dog.test/breeds/terrier-yorkshire/a.jpg"]}`))

	_, err := src.FetchImages(t.Context(), yorkshireRecord(), 1)
	require.NoError(t, err)

	_, err = src.FetchImages(t.Context(), yorkshireRecord(), 1)
	require.Error(t, err)
	assert.True(t, IsSourceErrorKind(err, KindRateLimited))
	assert.Equal(t, 1, mock.GetTotalCallCount(), "exhausted window must not reach the network")

	clock.Advance(time.Hour)
	_, err = src.FetchImages(t.Context(), yorkshireRecord(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, mock.GetTotalCallCount())
}

func TestDogCEOSingleStringMessage(t *testing.T) {
	t.Parallel()
	src, mock := newTestDogCEO(t, DogCEOConfig{})

	mock.RegisterResponder(http.MethodGet, testDogCEOBase+"/breed/terrier/yorkshire/images",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"success","message":"https://images.dog.test/breeds/terrier-yorkshire/only.jpg"}`))

	images, err := src.FetchImages(t.Context(), yorkshireRecord(), 5)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "https://images.dog.test/breeds/terrier-yorkshire/only.jpg", images[0].URL)
}

func TestDogCEOErrorKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		responder httpmock.Responder
		want      ErrorKind
	}{
		{"network failure", httpmock.NewErrorResponder(assert.AnError), KindNetwork},
		{"malformed json", httpmock.NewStringResponder(http.StatusOK, `<html>oops</html>`), KindInvalidResponse},
		{"server error", httpmock.NewStringResponder(http.StatusBadGateway, `bad gateway`), KindUnavailable},
		{"too many requests", httpmock.NewStringResponder(http.StatusTooManyRequests, ``), KindRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src, mock := newTestDogCEO(t, DogCEOConfig{})
			rec := &pathRecorder{}
			mock.RegisterNoResponder(func(req *http.Request) (*http.Response, error) {
				rec.record(req)
				return tt.responder(req)
			})

			_, err := src.FetchImages(t.Context(), yorkshireRecord(), 2)
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
			// failures other than not-found end the chain at the first path
			assert.Len(t, rec.get(), 1)
		})
	}
}

func TestDogCEOProbe(t *testing.T) {
	t.Parallel()
	src, mock := newTestDogCEO(t, DogCEOConfig{})

	mock.RegisterResponder(http.MethodGet, testDogCEOBase+"/breeds/list/all",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"success","message":{"terrier":["yorkshire"]}}`))
	require.NoError(t, src.Probe(t.Context()))
	assert.True(t, src.Available())

	mock.RegisterResponder(http.MethodGet, testDogCEOBase+"/breeds/list/all",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, ``))
	require.Error(t, src.Probe(t.Context()))
	assert.False(t, src.Available())
}

func TestDogCEOShuffleApplied(t *testing.T) {
	t.Parallel()
	src, mock := newTestDogCEO(t, DogCEOConfig{Shuffle: func(s []string) { slices.Reverse(s) }})

	mock.RegisterResponder(http.MethodGet, testDogCEOBase+"/breed/terrier/yorkshire/images",
		httpmock.NewStringResponder(http.StatusOK, `{"status":"success","message":["https://x.test/a.jpg","https://x.test/b.jpg","https://x.test/c.jpg"]}`))

	images, err := src.FetchImages(t.Context(), yorkshireRecord(), 2)
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "https://x.test/c.jpg", images[0].URL)
	assert.Equal(t, "https://x.test/b.jpg", images[1].URL)
}

func TestCandidatePaths(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		[]string{"terrier/yorkshire", "yorkshireterrier", "yorkie", "yorkshire", "terrier"},
		candidatePaths(yorkshireRecord()))

	pug := yorkshireRecord()
	pug.ClassifierLabel, pug.DisplayName, pug.ExternalSourceKey = "pug", "Pug", "pug"
	pug.SearchTerms = []string{"pug"}
	assert.Equal(t, []string{"pug"}, candidatePaths(pug))
}
