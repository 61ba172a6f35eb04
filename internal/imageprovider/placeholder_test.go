package imageprovider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/pawdentify/internal/breeds"
)

func TestRelevance(t *testing.T) {
	t.Parallel()
	rec := yorkshireRecord()

	assert.Zero(t, Relevance(rec))
	assert.Zero(t, Relevance(rec, "", "  "))
	assert.InDelta(t, 0.5, Relevance(rec, "A YORKSHIRE TERRIER on a sofa"), 0.0001)
	assert.InDelta(t, 1.0, Relevance(rec, "yorkshire terrier", "cute yorkie"), 0.0001)
	assert.Zero(t, Relevance(rec, "a golden retriever"))
	assert.Zero(t, Relevance(breeds.Record{}, "anything"))
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	got := Placeholders(yorkshireRecord(), 2, 3)
	if assert.Len(t, got, 2) {
		assert.Equal(t, "https://via.placeholder.com/800x600/4A90E2/FFFFFF?text=Yorkshire+Terrier", got[0].URL)
		assert.Equal(t, "https://via.placeholder.com/300x200/4A90E2/FFFFFF?text=Yorkshire+Terrier", got[0].ThumbnailURL)
		assert.Equal(t, "placeholder_yorkshire_terrier_3", got[0].ID)
		assert.Equal(t, "placeholder_yorkshire_terrier_4", got[1].ID)
		assert.True(t, got[1].IsFallback)
	}

	// deterministic
	assert.Equal(t, got, Placeholders(yorkshireRecord(), 2, 3))
	assert.Nil(t, Placeholders(yorkshireRecord(), 0, 0))
}

func TestDedupKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "https://x.test/a.jpg", dedupKey("https://x.test/a.jpg?w=10&h=20"))
	assert.Equal(t, "https://x.test/a.jpg", dedupKey("https://x.test/a.jpg#frag"))
	assert.Equal(t, "https://x.test/a.jpg", dedupKey("https://x.test/a.jpg"))
}

func TestWindowLimiter(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	l := NewWindowLimiter(3, time.Hour, clock.Now)

	for range 3 {
		assert.True(t, l.Allow())
	}
	assert.False(t, l.Allow())
	assert.True(t, l.Exhausted())

	clock.Advance(59 * time.Minute)
	assert.False(t, l.Allow(), "window has not rolled yet")

	clock.Advance(time.Minute)
	assert.False(t, l.Exhausted())
	remaining, resetAt := l.Remaining()
	assert.Equal(t, 3, remaining)
	assert.Equal(t, clock.Now().Add(time.Hour), resetAt)

	unlimited := NewWindowLimiter(0, time.Hour, clock.Now)
	for range 100 {
		assert.True(t, unlimited.Allow())
	}
	remaining, _ = unlimited.Remaining()
	assert.Equal(t, -1, remaining)
}

func TestSourceWeights(t *testing.T) {
	t.Parallel()
	assert.Greater(t, SourceUnsplash.Weight(), SourceDogCEO.Weight())
	assert.Greater(t, SourceDogCEO.Weight(), SourcePlaceholder.Weight())
	assert.Equal(t, QualityHigh, SourceUnsplash.Quality())
	assert.Equal(t, QualityStandard, SourceDogCEO.Quality())
	assert.Equal(t, QualityPlaceholder, SourcePlaceholder.Quality())
}
