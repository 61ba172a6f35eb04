package breedimages

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/pawdentify/internal/breeds"
	"github.com/tphakala/pawdentify/internal/classifier"
	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/events"
	"github.com/tphakala/pawdentify/internal/imagecache"
	"github.com/tphakala/pawdentify/internal/imageprovider"
	"github.com/tphakala/pawdentify/internal/logger"
)

// ErrNoImages is returned when a resolution produced nothing to show
var ErrNoImages = errors.NewStd("no images available")

const closeSyncTimeout = 10 * time.Second

// Service ties the resolver, aggregator, cache and classifier together
type Service struct {
	resolver   *breeds.Resolver
	aggregator *imageprovider.Aggregator
	cache      *imagecache.Manager
	classifier classifier.Predictor
	bus        *events.EventBus
	threshold  float64
	now        func() time.Time
	log        logger.Logger
}

// Option configures a Service
type Option func(*Service)

// WithClassifier enables Identify
func WithClassifier(p classifier.Predictor) Option {
	return func(s *Service) { s.classifier = p }
}

// WithThreshold sets the minimum confidence for a predicted breed
func WithThreshold(threshold float64) Option {
	return func(s *Service) {
		if threshold > 0 && threshold <= 1 {
			s.threshold = threshold
		}
	}
}

// WithEventBus enables Subscribe
func WithEventBus(bus *events.EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithNow replaces time.Now for result timestamps
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates the service. resolver, aggregator and cache are required.
func New(resolver *breeds.Resolver, aggregator *imageprovider.Aggregator, cache *imagecache.Manager, opts ...Option) (*Service, error) {
	if resolver == nil || aggregator == nil || cache == nil {
		return nil, errors.Newf("breed image service requires a resolver, an aggregator and a cache").
			Component("breedimages").
			Category(errors.CategoryConfiguration).
			Build()
	}
	s := &Service{
		resolver:   resolver,
		aggregator: aggregator,
		cache:      cache,
		threshold:  classifier.DefaultThreshold,
		now:        time.Now,
		log:        logger.NewSlogLogger(nil, logger.LogLevelInfo, nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Module("breedimages")
	return s, nil
}

// FetchBreedImages returns a gallery for a classifier label or display
// name. Unknown names get placeholders under the raw name and are never
// cached. Any other failure comes back as a failure descriptor.
func (s *Service) FetchBreedImages(ctx context.Context, nameOrLabel string, opts Options) Result {
	return s.fetch(ctx, nameOrLabel, opts.normalized(), 0)
}

func (s *Service) fetch(ctx context.Context, nameOrLabel string, opts Options, confidence float64) Result {
	name := strings.TrimSpace(nameOrLabel)
	if name == "" {
		return failure(nameOrLabel, errors.ValidationError("breed name is required"))
	}

	rec, err := s.resolver.Resolve(name)
	if err != nil {
		if errors.Is(err, breeds.ErrBreedNotFound) {
			return s.unknownBreed(name, opts, confidence)
		}
		return failure(name, err)
	}

	entry, cached, err := s.cache.Load(ctx, cacheKey(rec, opts), rec.ClassifierLabel,
		imagecache.LoadOptions{Refresh: opts.ForceRefresh}, s.loader(rec, opts))
	if err != nil {
		s.log.Warn("Image fetch failed",
			logger.String("breed", rec.ClassifierLabel),
			logger.Error(err))
		return failure(rec.DisplayName, err)
	}

	return Result{
		Success:         true,
		BreedName:       rec.DisplayName,
		ClassifierLabel: rec.ClassifierLabel,
		Images:          wrapImages(entry.Images),
		Metadata: &Metadata{
			TotalFetched:         len(entry.Images),
			Sources:              sourcesOf(entry.Images),
			FetchTime:            s.now(),
			PredictionConfidence: confidence,
			Cached:               cached,
			Placeholders:         countPlaceholders(entry.Images),
		},
	}
}

func cacheKey(rec breeds.Record, opts Options) string {
	return imagecache.Key(rec.ClassifierLabel, imagecache.KeyOptions{
		Count:             opts.ImageCount,
		IncludeFallbacks:  opts.IncludeFallbacks,
		PrioritizeQuality: opts.PrioritizeQuality,
	})
}

func (s *Service) loader(rec breeds.Record, opts Options) imagecache.Loader {
	return func(ctx context.Context) ([]imageprovider.ImageDescriptor, error) {
		return s.aggregate(ctx, rec, opts)
	}
}

// aggregate runs the source fan-out for one cache miss
func (s *Service) aggregate(ctx context.Context, rec breeds.Record, opts Options) ([]imageprovider.ImageDescriptor, error) {
	agg := s.aggregator.Aggregate(ctx, rec, opts.ImageCount,
		imageprovider.AggregateOptions{PrioritizeQuality: opts.PrioritizeQuality})

	images := agg.Images
	if !opts.IncludeFallbacks {
		images = slices.DeleteFunc(slices.Clone(images), func(d imageprovider.ImageDescriptor) bool {
			return d.IsFallback
		})
	}
	if len(images) == 0 {
		return nil, errors.New(fmt.Errorf("%w for %s", ErrNoImages, rec.DisplayName)).
			Component("breedimages").
			Category(errors.CategoryImageFetch).
			Context("breed", rec.ClassifierLabel).
			Context("failed_sources", len(agg.Errors)).
			Build()
	}
	return images, nil
}

func (s *Service) unknownBreed(name string, opts Options, confidence float64) Result {
	s.log.Info("Unknown breed, serving placeholders", logger.String("name", name))
	if !opts.IncludeFallbacks {
		return failure(name, fmt.Errorf("%w: %q", breeds.ErrBreedNotFound, name))
	}
	images := imageprovider.PlaceholdersFor(name, opts.ImageCount, 0)
	return Result{
		Success:   true,
		BreedName: name,
		Images:    wrapImages(images),
		Metadata: &Metadata{
			TotalFetched:         len(images),
			Sources:              []imageprovider.SourceName{imageprovider.SourcePlaceholder},
			FetchTime:            s.now(),
			PredictionConfidence: confidence,
			Placeholders:         len(images),
		},
	}
}

// FetchMultiBreed builds a mixed gallery from up to MaxMultiBreeds
// candidates, best first. Each breed contributes ceil(count/n) images and
// the combined list is cut to the requested count. The gallery succeeds
// when at least one breed does.
func (s *Service) FetchMultiBreed(ctx context.Context, candidates []classifier.Candidate, opts Options) Result {
	opts = opts.normalized()

	picked := make([]classifier.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if strings.TrimSpace(c.Breed) != "" {
			picked = append(picked, c)
		}
	}
	slices.SortStableFunc(picked, func(a, b classifier.Candidate) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	if len(picked) > MaxMultiBreeds {
		picked = picked[:MaxMultiBreeds]
	}
	for i := range picked {
		picked[i].Rank = i + 1
	}

	switch len(picked) {
	case 0:
		return failure("", errors.ValidationError("at least one breed is required"))
	case 1:
		return s.fetch(ctx, picked[0].Breed, opts, picked[0].Confidence)
	}

	perBreed := (opts.ImageCount + len(picked) - 1) / len(picked)
	breedOpts := opts
	breedOpts.ImageCount = perBreed

	results := make([]Result, len(picked))
	var g errgroup.Group
	for i, c := range picked {
		g.Go(func() error {
			results[i] = s.fetch(ctx, c.Breed, breedOpts, c.Confidence)
			return nil
		})
	}
	_ = g.Wait()

	var (
		names     []string
		images    []Image
		breakdown []BreedBreakdown
		failures  []string
		allCached = true
	)
	for i, res := range results {
		c := picked[i]
		name := res.BreedName
		if name == "" {
			name = c.Breed
		}
		names = append(names, name)

		bd := BreedBreakdown{
			Breed:           name,
			ClassifierLabel: res.ClassifierLabel,
			Confidence:      c.Confidence,
			Rank:            c.Rank,
		}
		if !res.Success {
			bd.Error = res.Error
			failures = append(failures, fmt.Sprintf("%s: %s", name, res.Error))
			allCached = false
			breakdown = append(breakdown, bd)
			continue
		}
		bd.Images = len(res.Images)
		bd.Cached = res.Metadata.Cached
		allCached = allCached && bd.Cached
		breakdown = append(breakdown, bd)

		for _, img := range res.Images {
			img.ParentBreed = name
			img.ParentLabel = res.ClassifierLabel
			img.ParentConfidence = c.Confidence
			img.ParentRank = c.Rank
			images = append(images, img)
		}
	}

	combined := strings.Join(names, MultiBreedSeparator)
	if len(images) == 0 {
		return failure(combined, fmt.Errorf("%w: %s", ErrNoImages, strings.Join(failures, "; ")))
	}
	if len(images) > opts.ImageCount {
		images = images[:opts.ImageCount]
	}

	descriptors := make([]imageprovider.ImageDescriptor, len(images))
	for i := range images {
		descriptors[i] = images[i].ImageDescriptor
	}
	return Result{
		Success:      true,
		BreedName:    combined,
		IsMultiBreed: true,
		Images:       images,
		Candidates:   picked,
		Metadata: &Metadata{
			TotalFetched:         len(images),
			Sources:              sourcesOf(descriptors),
			FetchTime:            s.now(),
			PredictionConfidence: picked[0].Confidence,
			Cached:               allCached,
			Placeholders:         countPlaceholders(descriptors),
			Breakdown:            breakdown,
		},
	}
}

// Identify classifies an uploaded photo and returns the gallery for the
// predicted breed, or a mixed gallery when several breeds reach the
// confidence threshold. When no breed reaches it, the top prediction is
// used and the result is flagged as low confidence.
func (s *Service) Identify(ctx context.Context, image io.Reader, filename string, opts Options) Result {
	if s.classifier == nil {
		return failure("", errors.Newf("classifier is not configured").
			Component("breedimages").
			Category(errors.CategoryConfiguration).
			Build())
	}

	pred, err := s.classifier.Predict(ctx, image, filename)
	if err != nil {
		return failure("", err)
	}

	candidates := pred.Candidates(s.threshold)
	lowConfidence := !pred.Confident(s.threshold)
	s.log.Info("Photo classified",
		logger.String("predicted_class", pred.PredictedClass),
		logger.Float64("confidence", pred.Confidence),
		logger.Int("candidates", len(candidates)),
		logger.Bool("low_confidence", lowConfidence))

	var res Result
	if len(candidates) > 1 {
		res = s.FetchMultiBreed(ctx, candidates, opts)
	} else {
		res = s.fetch(ctx, pred.PredictedClass, opts.normalized(), pred.Confidence)
		res.Candidates = candidates
	}
	if res.Metadata != nil {
		res.Metadata.LowConfidence = lowConfidence
	}
	return res
}

// PreloadRequest lists breeds to warm, by label or display name
type PreloadRequest struct {
	Breeds    []string `json:"breeds"`
	Favorites []string `json:"favorites"`
}

// Preload warms the cache for the best scoring breeds of req. Names that
// do not resolve are reported as failed and never attempted.
func (s *Service) Preload(ctx context.Context, req PreloadRequest) imagecache.PreloadReport {
	unresolved := make(map[string]string)
	labels := s.toLabels(req.Breeds, unresolved)
	favorites := s.toLabels(req.Favorites, nil)

	report := s.cache.Preload(ctx, labels, imagecache.Preferences{Favorites: favorites}, s.preloadResolver)
	if report.Failed == nil {
		report.Failed = make(map[string]string, len(unresolved))
	}
	for name, reason := range unresolved {
		report.Failed[name] = reason
	}
	return report
}

func (s *Service) toLabels(names []string, unresolved map[string]string) []string {
	labels := make([]string, 0, len(names))
	for _, name := range names {
		rec, err := s.resolver.Resolve(name)
		if err != nil {
			if unresolved != nil {
				unresolved[name] = err.Error()
			}
			continue
		}
		labels = append(labels, rec.ClassifierLabel)
	}
	return labels
}

// preloadResolver points preload at the entry and loader a default
// request for label would use, so both share one resolution
func (s *Service) preloadResolver(label string) (string, imagecache.Loader, error) {
	rec, err := s.resolver.ResolveByLabel(label)
	if err != nil {
		return "", nil, err
	}
	opts := DefaultOptions()
	return cacheKey(rec, opts), s.loader(rec, opts), nil
}

// ClearCache drops every cached entry and empties the durable slot
func (s *Service) ClearCache(ctx context.Context) {
	s.cache.Clear(ctx)
}

// ClearBreed drops the cached entries of one breed
func (s *Service) ClearBreed(nameOrLabel string) (int, error) {
	rec, err := s.resolver.Resolve(nameOrLabel)
	if err != nil {
		return 0, err
	}
	return s.cache.ClearBreed(rec.ClassifierLabel), nil
}

// Stats returns the cache counters
func (s *Service) Stats() imagecache.Stats {
	return s.cache.Stats()
}

// SourceStatus reports each image source; probe checks reachability
func (s *Service) SourceStatus(ctx context.Context, probe bool) []imageprovider.SourceStatus {
	return s.aggregator.Status(ctx, probe)
}

// Breeds returns the breed catalog
func (s *Service) Breeds() []breeds.Record {
	return s.resolver.All()
}

// SearchBreeds returns the catalog records matching q
func (s *Service) SearchBreeds(q string) []breeds.Record {
	return s.resolver.Search(q)
}

// Subscribe streams cache events. The returned cancel func must be called
// when the consumer is done.
func (s *Service) Subscribe(buffer int) (<-chan events.CacheEvent, func(), error) {
	if s.bus == nil {
		return nil, nil, errors.Newf("event stream is not enabled").
			Component("breedimages").
			Category(errors.CategoryState).
			Build()
	}
	return s.bus.Subscribe(buffer)
}

// Close writes a final snapshot and stops cache maintenance
func (s *Service) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeSyncTimeout)
	defer cancel()
	if _, err := s.cache.Sync(ctx); err != nil {
		s.log.Warn("Final cache sync failed", logger.Error(err))
	}
	return s.cache.Close()
}
