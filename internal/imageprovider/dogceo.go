package imageprovider

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/google/uuid"

	"github.com/tphakala/pawdentify/internal/breeds"
	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/httpclient"
	"github.com/tphakala/pawdentify/internal/logger"
)

// dog.ceo caps the random endpoint at 50 images per call
const dogCEOMaxRandom = 50

// DogCEOConfig configures the primary image source
type DogCEOConfig struct {
	BaseURL string
	// RequestLimit is the number of HTTP calls allowed per Window
	RequestLimit int
	Window       time.Duration
	// Timeout bounds each HTTP call
	Timeout time.Duration
	// Shuffle, when set, reorders the returned URLs before sampling.
	// Without it the first count URLs are used.
	Shuffle func([]string)
}

// DefaultDogCEOConfig returns the production settings
func DefaultDogCEOConfig() DogCEOConfig {
	return DogCEOConfig{
		BaseURL:      "https://dog.ceo/api",
		RequestLimit: 1000,
		Window:       time.Hour,
		Timeout:      10 * time.Second,
	}
}

// DogCEOSource fetches images from the dog.ceo breed API. Lookups that
// miss walk a fallback chain ending at the random image endpoint.
type DogCEOSource struct {
	client  *httpclient.Client
	config  DogCEOConfig
	limiter *WindowLimiter
	log     logger.Logger
	// reachable is cleared when a probe fails and set again on success
	reachable atomic.Bool
}

// NewDogCEOSource creates the primary source. Zero config fields take
// their defaults.
func NewDogCEOSource(client *httpclient.Client, config DogCEOConfig, opts ...SourceOption) *DogCEOSource {
	def := DefaultDogCEOConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.RequestLimit == 0 {
		config.RequestLimit = def.RequestLimit
	}
	if config.Window == 0 {
		config.Window = def.Window
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	o := applySourceOptions(opts)
	s := &DogCEOSource{
		client:  client,
		config:  config,
		limiter: NewWindowLimiter(config.RequestLimit, config.Window, o.now),
		log:     o.log.Module("imageprovider").With(logger.String("source", string(SourceDogCEO))),
	}
	s.reachable.Store(true)
	return s
}

// Name implements ImageSource
func (s *DogCEOSource) Name() SourceName { return SourceDogCEO }

// Available implements ImageSource. The source needs no credential; it is
// only withheld after a failed probe.
func (s *DogCEOSource) Available() bool {
	return s.reachable.Load()
}

// Limiter exposes the request window for status reporting
func (s *DogCEOSource) Limiter() *WindowLimiter { return s.limiter }

// Probe checks /breeds/list/all and updates availability
func (s *DogCEOSource) Probe(ctx context.Context) error {
	_, err := s.get(ctx, s.config.BaseURL+"/breeds/list/all")
	s.reachable.Store(err == nil)
	if err != nil {
		s.log.Warn("dog.ceo probe failed", logger.Error(err))
		return err
	}
	return nil
}

// FetchImages implements ImageSource
func (s *DogCEOSource) FetchImages(ctx context.Context, rec breeds.Record, count int) ([]ImageDescriptor, error) {
	if count <= 0 {
		return nil, nil
	}

	reqID := uuid.New().String()[:8]
	log := s.log.With(logger.String("request_id", reqID), logger.String("breed", rec.ClassifierLabel))
	start := time.Now()

	urls, matched, err := s.fetchWithFallbacks(ctx, log, rec, count)
	if err != nil {
		log.Debug("dog.ceo fetch failed",
			logger.Error(err),
			logger.Duration("duration", time.Since(start)))
		return nil, err
	}

	if s.config.Shuffle != nil {
		s.config.Shuffle(urls)
	}
	if len(urls) > count {
		urls = urls[:count]
	}

	out := make([]ImageDescriptor, 0, len(urls))
	for i, u := range urls {
		out = append(out, ImageDescriptor{
			ID:             fmt.Sprintf("dogceo_%s_%d", strings.ToLower(rec.ClassifierLabel), i),
			URL:            u,
			ThumbnailURL:   u,
			Alt:            rec.DisplayName + " dog",
			Source:         SourceDogCEO,
			Quality:        QualityStandard,
			BreedRelevance: Relevance(rec, breedFromImageURL(u)...),
		})
	}

	log.Debug("dog.ceo fetch complete",
		logger.String("path", matched),
		logger.Int("images", len(out)),
		logger.Duration("duration", time.Since(start)))
	return out, nil
}

// fetchWithFallbacks walks the lookup chain: the record's key, each search
// term in path form, the sub-breed alone, the main breed alone and finally
// the random endpoint. The first success wins. Every call walks the full
// chain; misses are not remembered between calls.
//
// A failure other than not-found on the record's own key ends the chain.
// On the alternate steps network and decoding failures are logged and the
// walk moves on; a spent request budget still ends it.
func (s *DogCEOSource) fetchWithFallbacks(ctx context.Context, log logger.Logger, rec breeds.Record, count int) (urls []string, matched string, err error) {
	for i, p := range candidatePaths(rec) {
		found, fetchErr := s.fetchBreed(ctx, p)
		switch {
		case fetchErr == nil && len(found) > 0:
			return found, p, nil
		case fetchErr == nil, IsSourceErrorKind(fetchErr, KindNotFound):
			log.Debug("breed path not found, trying next fallback", logger.String("path", p))
		case i == 0, IsSourceErrorKind(fetchErr, KindRateLimited), ctx.Err() != nil:
			return nil, p, fetchErr
		default:
			log.Debug("fallback path failed, trying next",
				logger.String("path", p),
				logger.Error(fetchErr))
		}
	}

	log.Debug("using random images as last fallback")
	n := min(count, dogCEOMaxRandom)
	urls, err = s.fetchURLs(ctx, fmt.Sprintf("%s/breeds/image/random/%d", s.config.BaseURL, n))
	if err != nil {
		return nil, "random", err
	}
	if len(urls) == 0 {
		return nil, "random", newSourceError(SourceDogCEO, KindNotFound, fmt.Errorf("random endpoint returned no images"))
	}
	return urls, "random", nil
}

func (s *DogCEOSource) fetchBreed(ctx context.Context, breedPath string) ([]string, error) {
	segments := strings.Split(breedPath, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.fetchURLs(ctx, fmt.Sprintf("%s/breed/%s/images", s.config.BaseURL, strings.Join(segments, "/")))
}

// fetchURLs calls endpoint and returns the message field as a URL list
func (s *DogCEOSource) fetchURLs(ctx context.Context, endpoint string) ([]string, error) {
	obj, err := s.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	if list, err := obj.GetStringArray("message"); err == nil {
		return list, nil
	}
	if single, err := obj.GetString("message"); err == nil {
		return []string{single}, nil
	}
	return nil, newSourceError(SourceDogCEO, KindInvalidResponse, fmt.Errorf("message is neither a string nor a list"))
}

// get performs one rate-limited call and returns the decoded body once
// status is "success".
func (s *DogCEOSource) get(ctx context.Context, endpoint string) (*jason.Object, error) {
	if !s.limiter.Allow() {
		return nil, newSourceError(SourceDogCEO, KindRateLimited, fmt.Errorf("request budget of %d per %s spent", s.config.RequestLimit, s.config.Window))
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	resp, err := s.client.Get(reqCtx, endpoint)
	if err != nil {
		return nil, newSourceError(SourceDogCEO, KindNetwork, errors.NetworkError(stripURL(err), endpoint, s.config.Timeout))
	}
	if err := httpclient.CheckStatus(resp); err != nil {
		return nil, newSourceError(SourceDogCEO, classifyHTTPError(err), err)
	}
	defer resp.Body.Close()

	obj, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return nil, newSourceError(SourceDogCEO, KindInvalidResponse, fmt.Errorf("failed to decode response: %w", err))
	}

	status, _ := obj.GetString("status")
	if status != "success" {
		msg, _ := obj.GetString("message")
		return nil, newSourceError(SourceDogCEO, KindNotFound, fmt.Errorf("status %q: %s", status, msg))
	}
	return obj, nil
}

// candidatePaths lists the breed paths to try, in order, without repeats
func candidatePaths(rec breeds.Record) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(p string) {
		p = strings.Trim(p, "/")
		if p == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	key := rec.ExternalSourceKey
	if key == "" {
		key = breeds.DefaultSourceKey(rec.ClassifierLabel)
	}
	add(key)
	for _, term := range rec.SearchTerms {
		add(termToPath(term))
	}
	if category, sub, ok := strings.Cut(key, "/"); ok {
		add(sub)
		add(category)
	}
	return out
}

// termToPath lowercases term and removes whitespace
func termToPath(term string) string {
	return strings.Join(strings.Fields(strings.ToLower(term)), "")
}

// breedFromImageURL extracts the breed directory of a dog.ceo image URL,
// e.g. ".../breeds/terrier-yorkshire/x.jpg", as words in both orders.
func breedFromImageURL(raw string) []string {
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	dir := path.Base(path.Dir(u.Path))
	if dir == "." || dir == "/" || dir == "breeds" {
		return nil
	}
	words := strings.Split(dir, "-")
	reversed := make([]string, len(words))
	for i, w := range words {
		reversed[len(words)-1-i] = w
	}
	return []string{strings.Join(words, " "), strings.Join(reversed, " ")}
}
