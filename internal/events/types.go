// Package events provides an asynchronous event bus that decouples cache
// activity from its observers (metrics, logs, API subscribers). Publishing
// never blocks the cache.
package events

import "time"

// CacheEventKind identifies what happened in the image cache
type CacheEventKind string

const (
	KindHit           CacheEventKind = "hit"
	KindMiss          CacheEventKind = "miss"
	KindStored        CacheEventKind = "stored"
	KindEvicted       CacheEventKind = "evicted"
	KindExpired       CacheEventKind = "expired"
	KindPreloaded     CacheEventKind = "preloaded"
	KindPreloadFailed CacheEventKind = "preload-failed"
	KindSynced        CacheEventKind = "synced"
	KindSyncFailed    CacheEventKind = "sync-failed"
	KindCleared       CacheEventKind = "cleared"
)

// IsFailure reports whether the kind describes a failed operation
func (k CacheEventKind) IsFailure() bool {
	return k == KindPreloadFailed || k == KindSyncFailed
}

// CacheEvent is a single cache notification. Key and Breed are empty for
// cache-wide events such as cleared or synced.
type CacheEvent struct {
	Kind      CacheEventKind `json:"kind"`
	Key       string         `json:"key,omitempty"`
	Breed     string         `json:"breed,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Err       error          `json:"-"`
	// Count carries sizes for bulk events (entries synced, cleared or expired)
	Count int `json:"count,omitempty"`
}

// Error returns the event error message, or "" when there is none
func (e CacheEvent) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

// EventConsumer processes events delivered by the bus
type EventConsumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessEvent processes a single event
	ProcessEvent(event CacheEvent) error
}

// EventBusStats contains runtime statistics for monitoring
type EventBusStats struct {
	EventsReceived   uint64
	EventsSuppressed uint64
	EventsProcessed  uint64
	EventsDropped    uint64
	ConsumerErrors   uint64
	// SubscriberDrops counts events a slow subscriber channel could not take
	SubscriberDrops uint64
}
