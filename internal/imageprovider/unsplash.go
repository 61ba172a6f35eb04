package imageprovider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/google/uuid"
	"github.com/k3a/html2text"

	"github.com/tphakala/pawdentify/internal/breeds"
	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/httpclient"
	"github.com/tphakala/pawdentify/internal/logger"
)

// Unsplash caps per_page at 30
const unsplashMaxPerPage = 30

// UnsplashConfig configures the secondary image source
type UnsplashConfig struct {
	BaseURL   string
	AccessKey string
	// QuerySuffix is appended to the display name in search queries
	QuerySuffix  string
	RequestLimit int
	Window       time.Duration
	Timeout      time.Duration
}

// DefaultUnsplashConfig returns the production settings, without a key
func DefaultUnsplashConfig() UnsplashConfig {
	return UnsplashConfig{
		BaseURL:      "https://api.unsplash.com",
		QuerySuffix:  "dog breed",
		RequestLimit: 50,
		Window:       time.Hour,
		Timeout:      10 * time.Second,
	}
}

// UnsplashSource searches Unsplash for breed photos. Without an access key
// it reports itself unavailable and never touches the network.
type UnsplashSource struct {
	client  *httpclient.Client
	config  UnsplashConfig
	limiter *WindowLimiter
	log     logger.Logger
}

// NewUnsplashSource creates the secondary source
func NewUnsplashSource(client *httpclient.Client, config UnsplashConfig, opts ...SourceOption) *UnsplashSource {
	def := DefaultUnsplashConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.QuerySuffix == "" {
		config.QuerySuffix = def.QuerySuffix
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
	config.AccessKey = strings.TrimSpace(config.AccessKey)

	o := applySourceOptions(opts)
	return &UnsplashSource{
		client:  client,
		config:  config,
		limiter: NewWindowLimiter(config.RequestLimit, config.Window, o.now),
		log:     o.log.Module("imageprovider").With(logger.String("source", string(SourceUnsplash))),
	}
}

// Name implements ImageSource
func (s *UnsplashSource) Name() SourceName { return SourceUnsplash }

// Available implements ImageSource
func (s *UnsplashSource) Available() bool {
	return s.config.AccessKey != ""
}

// Limiter exposes the request window for status reporting
func (s *UnsplashSource) Limiter() *WindowLimiter { return s.limiter }

// FetchImages implements ImageSource
func (s *UnsplashSource) FetchImages(ctx context.Context, rec breeds.Record, count int) ([]ImageDescriptor, error) {
	if !s.Available() {
		return nil, newSourceError(SourceUnsplash, KindUnavailable, fmt.Errorf("access key not configured"))
	}
	if count <= 0 {
		return nil, nil
	}
	if !s.limiter.Allow() {
		return nil, newSourceError(SourceUnsplash, KindRateLimited,
			fmt.Errorf("request budget of %d per %s spent", s.config.RequestLimit, s.config.Window))
	}

	reqID := uuid.New().String()[:8]
	query := strings.TrimSpace(rec.DisplayName + " " + s.config.QuerySuffix)
	log := s.log.With(logger.String("request_id", reqID), logger.String("query", query))
	start := time.Now()

	results, err := s.search(ctx, query, min(count, unsplashMaxPerPage))
	if err != nil {
		log.Debug("unsplash search failed", logger.Error(err), logger.Duration("duration", time.Since(start)))
		return nil, err
	}
	if len(results) == 0 {
		return nil, newSourceError(SourceUnsplash, KindNotFound, fmt.Errorf("no results for %q", query))
	}

	out := make([]ImageDescriptor, 0, len(results))
	for i, photo := range results {
		desc, ok := photoDescriptor(rec, photo, i)
		if !ok {
			log.Trace("skipping photo without urls", logger.Int("index", i))
			continue
		}
		out = append(out, desc)
		if len(out) == count {
			break
		}
	}
	if len(out) == 0 {
		return nil, newSourceError(SourceUnsplash, KindInvalidResponse, fmt.Errorf("results carried no usable image urls"))
	}

	log.Debug("unsplash fetch complete",
		logger.Int("images", len(out)),
		logger.Duration("duration", time.Since(start)))
	return out, nil
}

func (s *UnsplashSource) search(ctx context.Context, query string, perPage int) ([]*jason.Object, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", strconv.Itoa(perPage))
	params.Set("orientation", "landscape")
	params.Set("content_filter", "high")
	params.Set("client_id", s.config.AccessKey)
	endpoint := s.config.BaseURL + "/search/photos?" + params.Encode()

	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	resp, err := s.client.Get(reqCtx, endpoint, httpclient.WithHeader("Accept-Version", "v1"))
	if err != nil {
		return nil, newSourceError(SourceUnsplash, KindNetwork, errors.NetworkError(stripURL(err), endpoint, s.config.Timeout))
	}
	if err := httpclient.CheckStatus(resp); err != nil {
		return nil, newSourceError(SourceUnsplash, classifyHTTPError(err), err)
	}
	defer resp.Body.Close()

	obj, err := jason.NewObjectFromReader(resp.Body)
	if err != nil {
		return nil, newSourceError(SourceUnsplash, KindInvalidResponse, fmt.Errorf("failed to decode response: %w", err))
	}
	results, err := obj.GetObjectArray("results")
	if err != nil {
		return nil, newSourceError(SourceUnsplash, KindInvalidResponse, fmt.Errorf("missing results: %w", err))
	}
	return results, nil
}

// photoDescriptor converts one search result. ok is false when the photo
// has no regular URL.
func photoDescriptor(rec breeds.Record, photo *jason.Object, index int) (ImageDescriptor, bool) {
	regular, err := photo.GetString("urls", "regular")
	if err != nil || regular == "" {
		return ImageDescriptor{}, false
	}
	thumb, err := photo.GetString("urls", "thumb")
	if err != nil || thumb == "" {
		thumb = regular
	}

	alt := plainText(photo, "alt_description")
	description := plainText(photo, "description")
	metadata := []string{alt, description}
	if tags, err := photo.GetObjectArray("tags"); err == nil {
		for _, tag := range tags {
			if title, err := tag.GetString("title"); err == nil {
				metadata = append(metadata, title)
			}
		}
	}

	if alt == "" {
		alt = rec.DisplayName + " dog"
	}

	desc := ImageDescriptor{
		ID:             fmt.Sprintf("unsplash_%s_%d", strings.ToLower(rec.ClassifierLabel), index),
		URL:            regular,
		ThumbnailURL:   thumb,
		Alt:            alt,
		Source:         SourceUnsplash,
		Quality:        QualityHigh,
		BreedRelevance: Relevance(rec, metadata...),
	}

	if name, err := photo.GetString("user", "name"); err == nil && name != "" {
		desc.Attribution = &Attribution{Photographer: name}
		desc.Attribution.PhotographerURL, _ = photo.GetString("user", "links", "html")
		desc.Attribution.DownloadLocation, _ = photo.GetString("links", "download_location")
	}
	return desc, true
}

// plainText reads a string field and strips any markup from it
func plainText(obj *jason.Object, key string) string {
	raw, err := obj.GetString(key)
	if err != nil || raw == "" {
		return ""
	}
	return strings.TrimSpace(html2text.HTML2Text(raw))
}
