package imageprovider

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/pawdentify/internal/breeds"
	"github.com/tphakala/pawdentify/internal/logger"
	"github.com/tphakala/pawdentify/internal/observability/metrics"
)

// DefaultSourceTimeout bounds one source call inside an aggregation
const DefaultSourceTimeout = 15 * time.Second

// AggregateOptions tunes ranking
type AggregateOptions struct {
	// PrioritizeQuality ranks by source weight before relevance. When
	// false, relevance is compared first.
	PrioritizeQuality bool
}

// Aggregation is the merged result of one fan-out
type Aggregation struct {
	Images []ImageDescriptor
	// Sources lists the sources that contributed at least one image, in
	// registration order
	Sources      []SourceName
	Errors       map[SourceName]error
	Placeholders int
	Duration     time.Duration
}

// Aggregator fans a request out to every available source and merges the
// answers into a deterministic, padded list.
type Aggregator struct {
	sources []ImageSource
	timeout time.Duration
	metrics *metrics.ImageProviderMetrics
	log     logger.Logger
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

// WithSourceTimeout overrides DefaultSourceTimeout
func WithSourceTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithAggregatorMetrics records per-source and aggregation metrics
func WithAggregatorMetrics(m *metrics.ImageProviderMetrics) AggregatorOption {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// WithAggregatorLogger sets the logger
func WithAggregatorLogger(log logger.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if log != nil {
			a.log = log.Module("imageprovider")
		}
	}
}

// NewAggregator creates an aggregator over sources. Registration order is
// the final tie-breaker when ranking.
func NewAggregator(sources []ImageSource, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		sources: append([]ImageSource(nil), sources...),
		timeout: DefaultSourceTimeout,
		log:     logger.NewSlogLogger(nil, logger.LogLevelInfo, nil).Module("imageprovider"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Sources returns the registered sources
func (a *Aggregator) Sources() []ImageSource {
	return append([]ImageSource(nil), a.sources...)
}

type sourceResult struct {
	images []ImageDescriptor
	err    error
}

// Aggregate queries every available source concurrently, ranks and
// deduplicates the images, pads with placeholders and returns exactly
// desiredCount descriptors. Sources whose request window is spent are
// skipped and reported as rate limited. A failing source never affects the others and
// never fails the aggregation.
func (a *Aggregator) Aggregate(ctx context.Context, rec breeds.Record, desiredCount int, opts AggregateOptions) Aggregation {
	start := time.Now()
	agg := Aggregation{Errors: make(map[SourceName]error)}
	if desiredCount <= 0 {
		return agg
	}

	results := make([]sourceResult, len(a.sources))
	var g errgroup.Group
	for i, src := range a.sources {
		if !src.Available() {
			continue
		}
		if exhausted(src) {
			results[i] = sourceResult{err: newSourceError(src.Name(), KindRateLimited,
				fmt.Errorf("request budget spent, skipped until the window resets"))}
			if a.metrics != nil {
				a.metrics.RecordSourceError(string(src.Name()), string(KindRateLimited))
			}
			continue
		}
		g.Go(func() error {
			results[i] = a.query(ctx, src, rec, desiredCount)
			// errors stay in results so one source cannot cancel another
			return nil
		})
	}
	_ = g.Wait()

	var collected []ImageDescriptor
	for i, src := range a.sources {
		res := results[i]
		if res.err != nil {
			agg.Errors[src.Name()] = res.err
			continue
		}
		if len(res.images) > 0 {
			agg.Sources = append(agg.Sources, src.Name())
			collected = append(collected, res.images...)
		}
	}

	rankImages(collected, opts.PrioritizeQuality)
	images := dedupImages(collected)

	if missing := desiredCount - len(images); missing > 0 {
		images = append(images, Placeholders(rec, missing, 0)...)
		agg.Placeholders = missing
	}
	agg.Images = images[:desiredCount]
	agg.Duration = time.Since(start)

	if a.metrics != nil {
		a.metrics.ObserveAggregation(agg.Duration.Seconds(), agg.Placeholders)
	}
	a.log.Debug("aggregation complete",
		logger.String("breed", rec.ClassifierLabel),
		logger.Int("requested", desiredCount),
		logger.Int("real_images", desiredCount-agg.Placeholders),
		logger.Int("placeholders", agg.Placeholders),
		logger.Int("failed_sources", len(agg.Errors)),
		logger.Duration("duration", agg.Duration))

	return agg
}

// rateLimited is implemented by sources with a request window
type rateLimited interface {
	Limiter() *WindowLimiter
}

func exhausted(src ImageSource) bool {
	l, ok := src.(rateLimited)
	return ok && l.Limiter() != nil && l.Limiter().Exhausted()
}

// query calls one source under its own timeout
func (a *Aggregator) query(ctx context.Context, src ImageSource, rec breeds.Record, count int) sourceResult {
	srcCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	images, err := src.FetchImages(srcCtx, rec, count)
	if err == nil && srcCtx.Err() != nil {
		err = newSourceError(src.Name(), KindNetwork, srcCtx.Err())
	}
	if err != nil && KindOf(err) == "" {
		err = newSourceError(src.Name(), KindNetwork, err)
	}

	if a.metrics != nil {
		a.metrics.RecordSourceRequest(string(src.Name()), outcomeFor(err), time.Since(start).Seconds(), len(images))
		if err != nil {
			a.metrics.RecordSourceError(string(src.Name()), string(KindOf(err)))
		}
	}
	if err != nil {
		a.log.Warn("image source failed",
			logger.String("source", string(src.Name())),
			logger.String("kind", string(KindOf(err))),
			logger.String("breed", rec.ClassifierLabel),
			logger.Error(err))
		return sourceResult{err: err}
	}
	return sourceResult{images: images}
}

// Status reports availability and remaining rate budget of each source.
// Sources implementing Prober are probed when probe is true.
func (a *Aggregator) Status(ctx context.Context, probe bool) []SourceStatus {
	out := make([]SourceStatus, 0, len(a.sources))
	for _, src := range a.sources {
		st := SourceStatus{Name: src.Name(), Remaining: -1}
		if probe {
			if p, ok := src.(Prober); ok {
				err := p.Probe(ctx)
				reachable := err == nil
				st.Reachable = &reachable
				if err != nil {
					st.Error = err.Error()
				}
			}
		}
		st.Available = src.Available()
		if l, ok := src.(rateLimited); ok {
			st.Remaining, st.ResetsAt = l.Limiter().Remaining()
		}
		out = append(out, st)
	}
	return out
}

// rankImages sorts in place by weight then relevance, or relevance then
// weight, keeping input order for ties.
func rankImages(images []ImageDescriptor, prioritizeQuality bool) {
	sort.SliceStable(images, func(i, j int) bool {
		wi, wj := images[i].Source.Weight(), images[j].Source.Weight()
		ri, rj := images[i].BreedRelevance, images[j].BreedRelevance
		if prioritizeQuality {
			if wi != wj {
				return wi > wj
			}
			return ri > rj
		}
		if ri != rj {
			return ri > rj
		}
		return wi > wj
	})
}

// dedupImages keeps the first occurrence of each URL, ignoring query and
// fragment
func dedupImages(images []ImageDescriptor) []ImageDescriptor {
	seen := make(map[string]struct{}, len(images))
	out := make([]ImageDescriptor, 0, len(images))
	for _, img := range images {
		key := dedupKey(img.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, img)
	}
	return out
}
