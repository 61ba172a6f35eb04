// Package classifier talks to the external breed classification service.
// The service receives an uploaded photo and answers with the most likely
// classifier label, its confidence and optionally the runner-up labels.
package classifier

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/httpclient"
	"github.com/tphakala/pawdentify/internal/logger"
	"github.com/tphakala/pawdentify/internal/observability/metrics"
)

const (
	// DefaultThreshold is the minimum confidence for a breed to be shown
	DefaultThreshold = 0.3
	// DefaultTimeout bounds a single prediction call
	DefaultTimeout = 30 * time.Second
	// DefaultMaxUploadBytes caps the photo size forwarded to the service
	DefaultMaxUploadBytes = 10 << 20

	predictPath    = "/predict"
	uploadField    = "file"
	maxErrorDetail = 512
)

// Candidate is one breed suggested by the classifier
type Candidate struct {
	Breed      string  `json:"breed"`
	Confidence float64 `json:"confidence"`
	Rank       int     `json:"rank"`
}

// Prediction is the classifier's answer for one photo
type Prediction struct {
	PredictedClass string      `json:"predicted_class"`
	Confidence     float64     `json:"confidence"`
	TopBreeds      []Candidate `json:"top_breeds,omitempty"`
	// PotentialCrossbreed is reported by services that run their own mix
	// detection
	PotentialCrossbreed bool `json:"is_potential_crossbreed,omitempty"`
}

// Candidates returns the distinct breeds at or above threshold, best first
// and ranked from 1. When none qualify the primary prediction is returned
// alone.
func (p Prediction) Candidates(threshold float64) []Candidate {
	all := make([]Candidate, 0, len(p.TopBreeds)+1)
	if p.PredictedClass != "" {
		all = append(all, Candidate{Breed: p.PredictedClass, Confidence: p.Confidence})
	}
	all = append(all, p.TopBreeds...)

	slices.SortStableFunc(all, func(a, b Candidate) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})

	seen := make(map[string]struct{}, len(all))
	out := make([]Candidate, 0, len(all))
	for _, c := range all {
		key := strings.ToLower(strings.TrimSpace(c.Breed))
		if key == "" || c.Confidence < threshold {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		c.Rank = len(out) + 1
		out = append(out, c)
	}

	if len(out) == 0 && p.PredictedClass != "" {
		return []Candidate{{Breed: p.PredictedClass, Confidence: p.Confidence, Rank: 1}}
	}
	return out
}

// Confident reports whether the primary prediction reaches threshold
func (p Prediction) Confident(threshold float64) bool {
	return p.Confidence >= threshold
}

// IsMultiBreed reports whether more than one breed reaches threshold
func (p Prediction) IsMultiBreed(threshold float64) bool {
	return len(p.Candidates(threshold)) > 1 && p.Confident(threshold)
}

// Config configures the classifier client
type Config struct {
	Endpoint       string
	Timeout        time.Duration
	MaxUploadBytes int64
}

// Predictor is implemented by Client; the service depends on it so tests
// can substitute a fake.
type Predictor interface {
	Predict(ctx context.Context, image io.Reader, filename string) (Prediction, error)
}

// Client calls the classifier service
type Client struct {
	http    *httpclient.Client
	cfg     Config
	metrics *metrics.ClassifierMetrics
	log     logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithMetrics records prediction outcomes
func WithMetrics(m *metrics.ClassifierMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient returns a client for the service at cfg.Endpoint
func NewClient(hc *httpclient.Client, cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	c := &Client{
		http: hc,
		cfg:  cfg,
		log:  logger.NewSlogLogger(nil, logger.LogLevelInfo, nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Module("classifier")
	return c
}

// wireResponse mirrors the service's JSON
type wireResponse struct {
	PredictedClass      string      `json:"predicted_class"`
	Confidence          float64     `json:"confidence"`
	Error               string      `json:"error"`
	PotentialCrossbreed bool        `json:"is_potential_crossbreed"`
	TopPredictions      []Candidate `json:"top_predictions"`
	DebugInfo           *struct {
		Top3Breeds []Candidate `json:"top_3_breeds"`
	} `json:"debug_info"`
}

// Predict uploads image and returns the classifier's prediction. Any
// failure to obtain a usable prediction is returned as a classifier-category
// error.
func (c *Client) Predict(ctx context.Context, image io.Reader, filename string) (Prediction, error) {
	reqID := uuid.NewString()
	start := time.Now()
	log := c.log.With(logger.String("request_id", reqID))

	pred, err := c.predict(ctx, image, filename)
	elapsed := time.Since(start)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordFailure(elapsed.Seconds())
		}
		log.Warn("Classifier request failed", logger.Error(err), logger.Duration("duration", elapsed))
		return Prediction{}, err
	}

	if c.metrics != nil {
		c.metrics.RecordPrediction(elapsed.Seconds(), pred.Confidence)
	}
	log.Debug("Classifier prediction",
		logger.String("class", pred.PredictedClass),
		logger.Float64("confidence", pred.Confidence),
		logger.Duration("duration", elapsed))
	return pred, nil
}

func (c *Client) predict(ctx context.Context, image io.Reader, filename string) (Prediction, error) {
	if c.cfg.Endpoint == "" {
		return Prediction{}, classifierError(fmt.Errorf("classifier endpoint is not configured"), "config")
	}
	body, contentType, err := c.encodeUpload(image, filename)
	if err != nil {
		return Prediction{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := c.cfg.Endpoint + predictPath
	resp, err := c.http.Post(ctx, url, contentType, body, httpclient.WithHeader("Accept", "application/json"))
	if err != nil {
		return Prediction{}, errors.New(fmt.Errorf("classifier unreachable: %w", err)).
			Component("classifier").
			Category(errors.CategoryClassifier).
			NetworkContext(url, c.cfg.Timeout).
			Context("reason", "network").
			Build()
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Prediction{}, classifierError(fmt.Errorf("failed to read classifier response: %w", err), "network")
	}

	var wire wireResponse
	decodeErr := json.Unmarshal(raw, &wire)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail := wire.Error
		if decodeErr != nil || detail == "" {
			detail = truncate(strings.TrimSpace(string(raw)), maxErrorDetail)
		}
		return Prediction{}, classifierError(fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, detail), "status")
	}
	if decodeErr != nil {
		return Prediction{}, classifierError(fmt.Errorf("malformed classifier response: %w", decodeErr), "malformed")
	}
	if wire.Error != "" {
		return Prediction{}, classifierError(fmt.Errorf("classifier error: %s", wire.Error), "service")
	}
	if strings.TrimSpace(wire.PredictedClass) == "" {
		return Prediction{}, classifierError(fmt.Errorf("classifier response has no predicted class"), "malformed")
	}

	pred := Prediction{
		PredictedClass:      wire.PredictedClass,
		Confidence:          wire.Confidence,
		PotentialCrossbreed: wire.PotentialCrossbreed,
		TopBreeds:           wire.TopPredictions,
	}
	if wire.DebugInfo != nil && len(wire.DebugInfo.Top3Breeds) > 0 {
		pred.TopBreeds = wire.DebugInfo.Top3Breeds
	}
	for i := range pred.TopBreeds {
		pred.TopBreeds[i].Rank = i + 1
	}
	return pred, nil
}

// encodeUpload builds the multipart body, enforcing the upload cap
func (c *Client) encodeUpload(image io.Reader, filename string) (*bytes.Buffer, string, error) {
	if image == nil {
		return nil, "", errors.ValidationError("no image supplied")
	}
	if filename == "" {
		filename = "upload.jpg"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(uploadField, filepath.Base(filename))
	if err != nil {
		return nil, "", classifierError(err, "encode")
	}
	n, err := io.Copy(part, io.LimitReader(image, c.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, "", classifierError(fmt.Errorf("failed to read image: %w", err), "encode")
	}
	if n > c.cfg.MaxUploadBytes {
		return nil, "", errors.Newf("image exceeds %d bytes", c.cfg.MaxUploadBytes).
			Component("classifier").
			Category(errors.CategoryValidation).
			Build()
	}
	if err := w.Close(); err != nil {
		return nil, "", classifierError(err, "encode")
	}
	return &buf, w.FormDataContentType(), nil
}

func classifierError(err error, reason string) error {
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryClassifier).
		Context("reason", reason).
		Build()
}

// truncate keeps at most n bytes of s without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
