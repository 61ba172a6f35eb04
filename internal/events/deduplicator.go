package events

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"
)

// DeduplicationConfig holds configuration for failure deduplication
type DeduplicationConfig struct {
	Enabled    bool
	TTL        time.Duration
	MaxEntries int
}

// DefaultDeduplicationConfig returns default deduplication settings
func DefaultDeduplicationConfig() *DeduplicationConfig {
	return &DeduplicationConfig{
		Enabled:    true,
		TTL:        5 * time.Minute,
		MaxEntries: 1000,
	}
}

// FailureDeduplicator suppresses repeats of the same failure event. A durable
// store that is down fails every maintenance cycle with the same error; only
// the first occurrence per TTL window is delivered.
type FailureDeduplicator struct {
	config *DeduplicationConfig
	now    func() time.Time

	mu       sync.Mutex
	lastSeen map[uint64]time.Time

	totalSeen       atomic.Uint64
	totalSuppressed atomic.Uint64
}

// NewFailureDeduplicator creates a deduplicator
func NewFailureDeduplicator(config *DeduplicationConfig) *FailureDeduplicator {
	if config == nil {
		config = DefaultDeduplicationConfig()
	}
	return &FailureDeduplicator{
		config:   config,
		now:      time.Now,
		lastSeen: make(map[uint64]time.Time),
	}
}

// ShouldProcess reports whether event is new within the TTL window
func (fd *FailureDeduplicator) ShouldProcess(event CacheEvent) bool {
	if fd == nil || !fd.config.Enabled {
		return true
	}

	fd.totalSeen.Add(1)
	hash := eventHash(event)
	now := fd.now()

	fd.mu.Lock()
	defer fd.mu.Unlock()

	if seen, ok := fd.lastSeen[hash]; ok && now.Sub(seen) < fd.config.TTL {
		fd.totalSuppressed.Add(1)
		return false
	}

	if len(fd.lastSeen) >= fd.config.MaxEntries {
		fd.pruneLocked(now)
	}
	fd.lastSeen[hash] = now
	return true
}

// pruneLocked drops stale entries, then the oldest one if still full
func (fd *FailureDeduplicator) pruneLocked(now time.Time) {
	var oldestHash uint64
	var oldest time.Time
	for h, seen := range fd.lastSeen {
		if now.Sub(seen) >= fd.config.TTL {
			delete(fd.lastSeen, h)
			continue
		}
		if oldest.IsZero() || seen.Before(oldest) {
			oldest, oldestHash = seen, h
		}
	}
	if len(fd.lastSeen) >= fd.config.MaxEntries {
		delete(fd.lastSeen, oldestHash)
	}
}

// Stats returns seen and suppressed counts
func (fd *FailureDeduplicator) Stats() (seen, suppressed uint64) {
	return fd.totalSeen.Load(), fd.totalSuppressed.Load()
}

func eventHash(event CacheEvent) uint64 {
	h := sha256.New()
	h.Write([]byte(event.Kind))
	h.Write([]byte{0})
	h.Write([]byte(event.Key))
	h.Write([]byte{0})
	h.Write([]byte(event.Error()))
	return binary.BigEndian.Uint64(h.Sum(nil)[:8])
}
