// imageprovider.go: Package imageprovider fetches breed photographs from
// external image APIs and merges them into a ranked, padded result.
package imageprovider

import (
	"context"
	"time"

	"github.com/tphakala/pawdentify/internal/breeds"
	"github.com/tphakala/pawdentify/internal/logger"
	"github.com/tphakala/pawdentify/internal/observability/metrics"
)

// SourceName identifies where an image came from
type SourceName string

const (
	SourceDogCEO      SourceName = "dog-ceo"
	SourceUnsplash    SourceName = "unsplash"
	SourcePlaceholder SourceName = "placeholder"
)

// QualityTier is fixed per source
type QualityTier string

const (
	QualityHigh        QualityTier = "high"
	QualityStandard    QualityTier = "standard"
	QualityPlaceholder QualityTier = "placeholder"
)

// Weight returns the ranking weight of a source. Higher ranks first.
func (s SourceName) Weight() int {
	switch s {
	case SourceUnsplash:
		return 3
	case SourceDogCEO:
		return 2
	case SourcePlaceholder:
		return 1
	default:
		return 0
	}
}

// Quality returns the tier assigned to images from s
func (s SourceName) Quality() QualityTier {
	switch s {
	case SourceUnsplash:
		return QualityHigh
	case SourceDogCEO:
		return QualityStandard
	default:
		return QualityPlaceholder
	}
}

// Attribution carries photographer credit required by the secondary source
type Attribution struct {
	Photographer     string `json:"photographer"`
	PhotographerURL  string `json:"photographerUrl,omitempty"`
	DownloadLocation string `json:"downloadLocation,omitempty"`
}

// ImageDescriptor is one image candidate. Descriptors are values and are
// never modified after a source returns them.
type ImageDescriptor struct {
	ID             string       `json:"id"`
	URL            string       `json:"url"`
	ThumbnailURL   string       `json:"thumbnailUrl"`
	Alt            string       `json:"alt,omitempty"`
	Source         SourceName   `json:"source"`
	Quality        QualityTier  `json:"quality"`
	BreedRelevance float64      `json:"breedRelevance"`
	IsFallback     bool         `json:"isFallback"`
	Attribution    *Attribution `json:"attribution,omitempty"`
}

// ImageSource is an adapter over one external photo API.
type ImageSource interface {
	Name() SourceName
	// Available reports whether the source may be queried at all. An
	// unavailable source is never called.
	Available() bool
	FetchImages(ctx context.Context, rec breeds.Record, count int) ([]ImageDescriptor, error)
}

// Prober is implemented by sources that can check reachability
type Prober interface {
	Probe(ctx context.Context) error
}

// SourceStatus is a point-in-time view of one source
type SourceStatus struct {
	Name      SourceName `json:"name"`
	Available bool       `json:"available"`
	Reachable *bool      `json:"reachable,omitempty"`
	Remaining int        `json:"remaining"`
	ResetsAt  time.Time  `json:"resetsAt"`
	Error     string     `json:"error,omitempty"`
}

// SourceOption configures a source client
type SourceOption func(*sourceOptions)

type sourceOptions struct {
	log     logger.Logger
	metrics *metrics.ImageProviderMetrics
	now     func() time.Time
}

// WithLogger sets the logger used by a source
func WithLogger(log logger.Logger) SourceOption {
	return func(o *sourceOptions) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics attaches Prometheus collectors
func WithMetrics(m *metrics.ImageProviderMetrics) SourceOption {
	return func(o *sourceOptions) {
		o.metrics = m
	}
}

// WithClock replaces time.Now for rate limit windows
func WithClock(now func() time.Time) SourceOption {
	return func(o *sourceOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func applySourceOptions(opts []SourceOption) sourceOptions {
	o := sourceOptions{
		log: logger.NewSlogLogger(nil, logger.LogLevelInfo, nil),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
