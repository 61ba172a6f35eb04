package imagecache

import "time"

// Importance ranks an entry for eviction and durable mirroring. Newer,
// frequently read and preloaded entries score higher.
func Importance(age time.Duration, accessCount int, preloaded bool) float64 {
	score := max(0, 1000-age.Minutes())
	score += float64(accessCount) * 100
	if preloaded {
		score += 500
	}
	return score
}

// PreloadScore ranks a breed for preloading. sinceAccess is ignored when the
// breed was never accessed.
func PreloadScore(frequency int, sinceAccess time.Duration, accessed, favorite, cached bool) float64 {
	score := 100 + float64(frequency)*10
	if accessed {
		score += max(0, 50-sinceAccess.Hours())
	}
	if favorite {
		score += 200
	}
	if cached {
		score -= 50
	}
	return score
}

func (m *Manager) importanceLocked(e *Entry, now time.Time) float64 {
	return Importance(now.Sub(e.CreatedAt), e.AccessCount, e.Preloaded)
}

// lessImportant orders entries for eviction: lowest importance first, then
// oldest, then by key.
func lessImportant(a, b *Entry, ia, ib float64) bool {
	if ia != ib {
		return ia < ib
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Key < b.Key
}

// compareImportanceDesc sorts the most important entry first
func compareImportanceDesc(a, b *Entry, ia, ib float64) int {
	switch {
	case lessImportant(b, a, ib, ia):
		return -1
	case lessImportant(a, b, ia, ib):
		return 1
	}
	return 0
}
