package classifier

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/httpclient"
	"github.com/tphakala/pawdentify/internal/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	hc := httpclient.New(&httpclient.Config{DefaultTimeout: 5 * time.Second})
	t.Cleanup(hc.Close)

	if cfg.Endpoint == "" {
		cfg.Endpoint = srv.URL + "/"
	}
	return NewClient(hc, cfg, WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)))
}

func TestPredictSendsMultipartUpload(t *testing.T) {
	t.Parallel()

	type upload struct{ name, body string }
	got := make(chan upload, 1)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict", r.URL.Path)

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		got <- upload{name: header.Filename, body: string(body)}

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"predicted_class": "Yorkshire_terrier",
			"confidence": 0.81,
			"is_potential_crossbreed": false,
			"top_predictions": [
				{"breed": "Yorkshire_terrier", "confidence": 0.81},
				{"breed": "Silky_terrier", "confidence": 0.12}
			]
		}`)
	}, Config{})

	pred, err := client.Predict(t.Context(), strings.NewReader("jpeg-bytes"), "dir/yorkie.jpg")
	require.NoError(t, err)

	up := <-got
	assert.Equal(t, "yorkie.jpg", up.name)
	assert.Equal(t, "jpeg-bytes", up.body)
	assert.Equal(t, "Yorkshire_terrier", pred.PredictedClass)
	assert.InDelta(t, 0.81, pred.Confidence, 1e-9)
	require.Len(t, pred.TopBreeds, 2)
	assert.Equal(t, 2, pred.TopBreeds[1].Rank)
}

func TestPredictPrefersDebugTopBreeds(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{
			"predicted_class": "Pug",
			"confidence": 0.5,
			"top_predictions": [{"breed": "Pug", "confidence": 0.5}],
			"debug_info": {"top_3_breeds": [
				{"breed": "Pug", "confidence": 0.5},
				{"breed": "Boston_bull", "confidence": 0.35},
				{"breed": "French_bulldog", "confidence": 0.1}
			]}
		}`)
	}, Config{})

	pred, err := client.Predict(t.Context(), strings.NewReader("x"), "pug.png")
	require.NoError(t, err)
	require.Len(t, pred.TopBreeds, 3)
	assert.Equal(t, "Boston_bull", pred.TopBreeds[1].Breed)
	assert.True(t, pred.IsMultiBreed(DefaultThreshold))
}

func TestPredictErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "service error with 500",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = io.WriteString(w, `{"error": "model not loaded"}`)
			},
			want: "model not loaded",
		},
		{
			name: "plain text failure",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "bad gateway", http.StatusBadGateway)
			},
			want: "status 502",
		},
		{
			name: "error field with 200",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"error": "unreadable image"}`)
			},
			want: "unreadable image",
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"predicted_class": `)
			},
			want: "malformed",
		},
		{
			name: "missing class",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"confidence": 0.9}`)
			},
			want: "no predicted class",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := newTestClient(t, tt.handler, Config{})
			_, err := client.Predict(t.Context(), strings.NewReader("x"), "a.jpg")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, errors.IsCategory(err, errors.CategoryClassifier))
		})
	}
}

func TestPredictTruncatesErrorDetailOnRuneBoundary(t *testing.T) {
	t.Parallel()
	// one ASCII byte shifts every two-byte rune so the cut lands mid-rune
	body := "x" + strings.Repeat("é", maxErrorDetail)
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, body)
	}, Config{})

	_, err := client.Predict(t.Context(), strings.NewReader("x"), "a.jpg")
	require.Error(t, err)
	assert.True(t, utf8.ValidString(err.Error()))
	assert.True(t, strings.HasSuffix(err.Error(), "é..."))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short input untouched", "pug", 8, "pug"},
		{"ascii cut", "dachshund", 4, "dach..."},
		{"cut inside two-byte rune", "aé", 2, "a..."},
		{"cut inside four-byte rune", "ab🐕", 4, "ab..."},
		{"cut after full rune", "éé", 2, "é..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, truncate(tt.in, tt.n))
		})
	}
}

func TestPredictReadsCrossbreedFlag(t *testing.T) {
	t.Parallel()
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"predicted_class":"Pug","confidence":0.41,"is_potential_crossbreed":true}`)
	}, Config{})

	pred, err := client.Predict(t.Context(), strings.NewReader("x"), "a.jpg")
	require.NoError(t, err)
	assert.True(t, pred.PotentialCrossbreed)
}

func TestPredictUnreachable(t *testing.T) {
	t.Parallel()
	hc := httpclient.New(&httpclient.Config{DefaultTimeout: time.Second})
	t.Cleanup(hc.Close)
	client := NewClient(hc, Config{Endpoint: "http://127.0.0.1:1"},
		WithLogger(logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)))

	_, err := client.Predict(t.Context(), strings.NewReader("x"), "a.jpg")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryClassifier))
}

func TestPredictRejectsOversizedUpload(t *testing.T) {
	t.Parallel()
	var called atomic.Bool
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) { called.Store(true) }, Config{MaxUploadBytes: 4})

	_, err := client.Predict(t.Context(), bytes.NewReader([]byte("12345")), "a.jpg")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.False(t, called.Load())
}

func TestCandidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		pred   Prediction
		want   []string
		multi  bool
		strong bool
	}{
		{
			name: "single confident breed",
			pred: Prediction{PredictedClass: "Pug", Confidence: 0.9,
				TopBreeds: []Candidate{{Breed: "Pug", Confidence: 0.9}, {Breed: "Chow", Confidence: 0.05}}},
			want:   []string{"Pug"},
			strong: true,
		},
		{
			name: "two breeds over threshold",
			pred: Prediction{PredictedClass: "Pug", Confidence: 0.45,
				TopBreeds: []Candidate{{Breed: "Beagle", Confidence: 0.3}, {Breed: "Pug", Confidence: 0.45}, {Breed: "Chow", Confidence: 0.2}}},
			want:   []string{"Pug", "Beagle"},
			multi:  true,
			strong: true,
		},
		{
			name:   "nothing reaches threshold",
			pred:   Prediction{PredictedClass: "Basenji", Confidence: 0.2},
			want:   []string{"Basenji"},
			strong: false,
		},
		{
			name: "duplicate labels differ in case",
			pred: Prediction{PredictedClass: "pug", Confidence: 0.6,
				TopBreeds: []Candidate{{Breed: "Pug", Confidence: 0.6}}},
			want:   []string{"pug"},
			strong: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.pred.Candidates(DefaultThreshold)
			names := make([]string, len(got))
			for i, c := range got {
				names[i] = c.Breed
				assert.Equal(t, i+1, c.Rank)
			}
			assert.Equal(t, tt.want, names)
			assert.Equal(t, tt.multi, tt.pred.IsMultiBreed(DefaultThreshold))
			assert.Equal(t, tt.strong, tt.pred.Confident(DefaultThreshold))
		})
	}
}
