// Package imagecache holds resolved breed image sets in memory under a
// bounded, importance-weighted eviction policy. Entries expire after a fixed
// window, popular breeds can be preloaded, and the most important entries are
// mirrored to a durable slot for warm starts.
package imagecache

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/tphakala/pawdentify/internal/imageprovider"
)

const (
	DefaultMaxEntries          = 50
	DefaultExpiry              = 24 * time.Hour
	DefaultPreloadThreshold    = 5
	DefaultPreloadInterval     = 200 * time.Millisecond
	DefaultMaintenanceInterval = time.Hour
	DefaultStatsInterval       = 5 * time.Minute
	DefaultDurableEntries      = 10
	DefaultDurableMaxEntries   = 20
	DefaultDurableMaxBytes     = 100_000
	topBreedsLimit             = 5
)

// Config controls cache sizing and background behaviour
type Config struct {
	MaxEntries       int
	Expiry           time.Duration
	PreloadThreshold int
	// PreloadInterval spaces preload resolutions; zero disables pacing
	PreloadInterval     time.Duration
	MaintenanceInterval time.Duration
	// StatsInterval of zero disables periodic stats logging
	StatsInterval time.Duration
	// DurableEntries is how many entries each sync mirrors
	DurableEntries int
	// DurableMaxEntries caps what the durable slot may hold or restore
	DurableMaxEntries int
	// DurableMaxBytes skips entries whose encoding is larger
	DurableMaxBytes int
}

// DefaultConfig returns the standard cache configuration
func DefaultConfig() Config {
	return Config{
		MaxEntries:          DefaultMaxEntries,
		Expiry:              DefaultExpiry,
		PreloadThreshold:    DefaultPreloadThreshold,
		PreloadInterval:     DefaultPreloadInterval,
		MaintenanceInterval: DefaultMaintenanceInterval,
		StatsInterval:       DefaultStatsInterval,
		DurableEntries:      DefaultDurableEntries,
		DurableMaxEntries:   DefaultDurableMaxEntries,
		DurableMaxBytes:     DefaultDurableMaxBytes,
	}
}

// withDefaults fills zero values from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxEntries <= 0 {
		c.MaxEntries = d.MaxEntries
	}
	if c.Expiry <= 0 {
		c.Expiry = d.Expiry
	}
	if c.PreloadThreshold <= 0 {
		c.PreloadThreshold = d.PreloadThreshold
	}
	if c.PreloadInterval < 0 {
		c.PreloadInterval = 0
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = d.MaintenanceInterval
	}
	if c.StatsInterval < 0 {
		c.StatsInterval = 0
	}
	if c.DurableEntries <= 0 {
		c.DurableEntries = d.DurableEntries
	}
	if c.DurableMaxEntries <= 0 {
		c.DurableMaxEntries = d.DurableMaxEntries
	}
	if c.DurableMaxBytes <= 0 {
		c.DurableMaxBytes = d.DurableMaxBytes
	}
	return c
}

// Clock supplies the current time. Expiry and scoring read time only
// through it.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Entry is one cached resolution result
type Entry struct {
	Key         string                          `json:"key"`
	Breed       string                          `json:"breed"`
	Images      []imageprovider.ImageDescriptor `json:"images"`
	CreatedAt   time.Time                       `json:"createdAt"`
	LastAccess  time.Time                       `json:"lastAccess"`
	AccessCount int                             `json:"accessCount"`
	Preloaded   bool                            `json:"preloaded"`
}

// validAt reports whether the entry is still within the expiry window
func (e *Entry) validAt(now time.Time, expiry time.Duration) bool {
	return !e.CreatedAt.IsZero() && now.Sub(e.CreatedAt) < expiry
}

// clone returns a copy whose image slice is not shared
func (e *Entry) clone() Entry {
	c := *e
	c.Images = slices.Clone(e.Images)
	return c
}

// KeyOptions are the request options that distinguish cache entries
type KeyOptions struct {
	Count             int
	IncludeFallbacks  bool
	PrioritizeQuality bool
}

// Key builds the cache key for a breed and its options. Option names are
// written in sorted order.
func Key(breed string, opts KeyOptions) string {
	return fmt.Sprintf("%s|count:%d|fallbacks:%t|quality:%t",
		breed, opts.Count, opts.IncludeFallbacks, opts.PrioritizeQuality)
}

// PutOptions qualify a stored entry
type PutOptions struct {
	Preloaded bool
}

// LoadOptions qualify a Load call
type LoadOptions struct {
	Preloaded bool
	// Refresh skips the cached entry and resolves again
	Refresh bool
}

// Loader resolves images for a cache miss
type Loader func(ctx context.Context) ([]imageprovider.ImageDescriptor, error)

// Resolver maps a preload candidate to the cache key a default request for
// it would use and the Loader that fills that key
type Resolver func(breed string) (key string, load Loader, err error)

// Preferences steer preload ranking
type Preferences struct {
	Favorites []string
}

// BreedAccess is a breed and how often it was requested
type BreedAccess struct {
	Breed       string `json:"breed"`
	AccessCount int    `json:"accessCount"`
}

// Stats is a snapshot of cache counters
type Stats struct {
	Entries         int           `json:"entries"`
	MaxEntries      int           `json:"maxEntries"`
	Hits            uint64        `json:"hits"`
	Misses          uint64        `json:"misses"`
	TotalRequests   uint64        `json:"totalRequests"`
	HitRate         float64       `json:"hitRate"`
	Evictions       uint64        `json:"evictions"`
	Expired         uint64        `json:"expired"`
	PreloadSuccess  uint64        `json:"preloadSuccess"`
	PreloadFailures uint64        `json:"preloadFailures"`
	PreloadQueue    int           `json:"preloadQueue"`
	SyncFailures    uint64        `json:"syncFailures"`
	LastSync        time.Time     `json:"lastSync,omitzero"`
	TopBreeds       []BreedAccess `json:"topBreeds"`
}
