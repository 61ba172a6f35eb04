package imagecache

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/tphakala/pawdentify/internal/events"
	"github.com/tphakala/pawdentify/internal/imageprovider"
	"github.com/tphakala/pawdentify/internal/logger"
)

// PreloadCandidate is a breed with its preload score
type PreloadCandidate struct {
	Breed    string  `json:"breed"`
	Score    float64 `json:"score"`
	Cached   bool    `json:"cached"`
	Favorite bool    `json:"favorite"`
}

// PreloadReport summarises one Preload call
type PreloadReport struct {
	Ranked    []PreloadCandidate `json:"ranked"`
	Attempted []string           `json:"attempted"`
	Succeeded []string           `json:"succeeded"`
	Failed    map[string]string  `json:"failed,omitempty"`
}

// RankPreload scores each distinct breed and sorts them best first. Ties
// keep the input order.
func (m *Manager) RankPreload(breeds []string, prefs Preferences) []PreloadCandidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rankPreloadLocked(breeds, prefs, m.clock.Now())
}

func (m *Manager) rankPreloadLocked(breeds []string, prefs Preferences, now time.Time) []PreloadCandidate {
	seen := make(map[string]struct{}, len(breeds))
	out := make([]PreloadCandidate, 0, len(breeds))

	for _, breed := range breeds {
		if breed == "" {
			continue
		}
		if _, dup := seen[breed]; dup {
			continue
		}
		seen[breed] = struct{}{}

		var frequency int
		var sinceAccess time.Duration
		rec, accessed := m.access[breed]
		if accessed {
			frequency = rec.count
			sinceAccess = now.Sub(rec.last)
		}
		c := PreloadCandidate{
			Breed:    breed,
			Cached:   m.isCachedLocked(breed, now),
			Favorite: slices.Contains(prefs.Favorites, breed),
		}
		c.Score = PreloadScore(frequency, sinceAccess, accessed, c.Favorite, c.Cached)
		out = append(out, c)
	}

	slices.SortStableFunc(out, func(a, b PreloadCandidate) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return out
}

// Preload resolves the highest scoring breeds that are not cached yet, at
// most PreloadThreshold of them, and stores them as preloaded entries.
// Resolutions are paced by the preload limiter and share the in-flight
// resolution of a concurrent request for the same key. A failed resolution is
// logged and counted; it never aborts the remaining candidates.
func (m *Manager) Preload(ctx context.Context, breeds []string, prefs Preferences, resolve Resolver) PreloadReport {
	m.mu.Lock()
	ranked := m.rankPreloadLocked(breeds, prefs, m.clock.Now())
	var selected []string
	for _, c := range ranked {
		if len(selected) == m.cfg.PreloadThreshold {
			break
		}
		if c.Cached {
			continue
		}
		if _, busy := m.preloading[c.Breed]; busy {
			continue
		}
		m.preloading[c.Breed] = struct{}{}
		selected = append(selected, c.Breed)
	}
	m.mu.Unlock()

	report := PreloadReport{Ranked: ranked, Failed: make(map[string]string)}
	m.log.Info("Starting preload",
		logger.Int("candidates", len(ranked)),
		logger.Int("selected", len(selected)))

	for i, breed := range selected {
		if err := m.preloadLimiter.Wait(ctx); err != nil {
			m.log.Debug("Preload cancelled", logger.Error(err))
			m.releasePreload(selected[i:]...)
			break
		}
		report.Attempted = append(report.Attempted, breed)

		if err := m.preloadOne(ctx, breed, resolve); err != nil {
			report.Failed[breed] = err.Error()
			continue
		}
		report.Succeeded = append(report.Succeeded, breed)
	}

	m.log.Info("Preload completed",
		logger.Int("succeeded", len(report.Succeeded)),
		logger.Int("failed", len(report.Failed)))
	return report
}

func (m *Manager) preloadOne(ctx context.Context, breed string, resolve Resolver) (err error) {
	defer m.releasePreload(breed)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("preload panic: %v", r)
			m.preloadFailed(breed, err)
		}
	}()

	key, load, err := resolve(breed)
	if err != nil {
		m.preloadFailed(breed, err)
		return err
	}
	if _, cached := m.Peek(key); cached {
		return nil
	}

	e, err := m.share(ctx, key, breed, true, load)
	if err == nil && !hasRealImage(e.Images) {
		err = fmt.Errorf("no images resolved for %s", breed)
	}
	if err != nil {
		m.preloadFailed(breed, err)
		return err
	}

	m.mu.Lock()
	m.preloadSuccess++
	m.publishLocked(events.KindPreloaded, key, breed, len(e.Images), nil)
	m.mu.Unlock()

	m.log.Debug("Preloaded breed", logger.String("breed", breed), logger.Int("images", len(e.Images)))
	return nil
}

func hasRealImage(images []imageprovider.ImageDescriptor) bool {
	return slices.ContainsFunc(images, func(img imageprovider.ImageDescriptor) bool {
		return !img.IsFallback
	})
}

func (m *Manager) preloadFailed(breed string, err error) {
	m.mu.Lock()
	m.preloadFailures++
	m.publishLocked(events.KindPreloadFailed, "", breed, 0, err)
	m.mu.Unlock()

	m.log.Warn("Failed to preload breed", logger.String("breed", breed), logger.Error(err))
}

func (m *Manager) releasePreload(breeds ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range breeds {
		delete(m.preloading, b)
	}
}
