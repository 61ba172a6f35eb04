package imagecache

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/tphakala/pawdentify/internal/datastore"
	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/events"
	"github.com/tphakala/pawdentify/internal/imageprovider"
	"github.com/tphakala/pawdentify/internal/logger"
	"github.com/tphakala/pawdentify/internal/observability/metrics"
)

// accessRecord tracks how often and how recently a breed was requested
type accessRecord struct {
	count int
	last  time.Time
}

// Manager owns the in-memory cache, the access analytics and the durable
// mirror. It is safe for concurrent use.
type Manager struct {
	cfg     Config
	clock   Clock
	store   datastore.SlotStore
	bus     *events.EventBus
	metrics *metrics.ImageCacheMetrics
	log     logger.Logger

	mu         sync.Mutex
	entries    map[string]*Entry
	access     map[string]*accessRecord
	preloading map[string]struct{}

	hits            uint64
	misses          uint64
	totalRequests   uint64
	evictions       uint64
	expired         uint64
	preloadSuccess  uint64
	preloadFailures uint64
	syncFailures    uint64
	lastSync        time.Time

	flights        singleflight.Group
	preloadLimiter *rate.Limiter

	lifecycleMu sync.Mutex
	quit        chan struct{}
	wg          sync.WaitGroup
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithStore sets the durable slot used for mirroring and restore
func WithStore(s datastore.SlotStore) Option {
	return func(m *Manager) {
		if s != nil {
			m.store = s
		}
	}
}

// WithEventBus publishes cache events on bus
func WithEventBus(bus *events.EventBus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithMetrics keeps the entry gauge current
func WithMetrics(mc *metrics.ImageCacheMetrics) Option {
	return func(m *Manager) { m.metrics = mc }
}

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager creates an empty cache. Background maintenance does not run
// until Start is called.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:        cfg.withDefaults(),
		clock:      systemClock{},
		store:      datastore.NewNoopStore(),
		log:        logger.NewSlogLogger(nil, logger.LogLevelInfo, nil),
		entries:    make(map[string]*Entry),
		access:     make(map[string]*accessRecord),
		preloading: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.Module("imagecache")

	limit := rate.Inf
	if m.cfg.PreloadInterval > 0 {
		limit = rate.Every(m.cfg.PreloadInterval)
	}
	m.preloadLimiter = rate.NewLimiter(limit, 1)
	return m
}

// Config returns the effective configuration
func (m *Manager) Config() Config { return m.cfg }

// Get returns a copy of the valid entry under key. A hit increments the
// entry's access count and the breed's access analytics; an expired entry
// is reported as a miss but stays in place until the next sweep.
func (m *Manager) Get(key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.totalRequests++

	e, ok := m.entries[key]
	if !ok || !e.validAt(now, m.cfg.Expiry) {
		m.misses++
		m.publishLocked(events.KindMiss, key, "", 0, nil)
		return Entry{}, false
	}

	e.AccessCount++
	e.LastAccess = now
	m.hits++
	m.recordAccessLocked(e.Breed, now)
	m.publishLocked(events.KindHit, key, e.Breed, 0, nil)

	return e.clone(), true
}

// Peek returns the entry under key without touching counters
func (m *Manager) Peek(key string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !e.validAt(m.clock.Now(), m.cfg.Expiry) {
		return Entry{}, false
	}
	return e.clone(), true
}

// Put stores images under key. An existing entry is replaced in place and
// keeps its access count. When the cache is full, expired entries are
// dropped first and then the least important entry is evicted.
func (m *Manager) Put(key, breed string, images []imageprovider.ImageDescriptor, opts PutOptions) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(key, breed, images, opts)
}

func (m *Manager) putLocked(key, breed string, images []imageprovider.ImageDescriptor, opts PutOptions) Entry {
	now := m.clock.Now()

	if existing, ok := m.entries[key]; ok {
		existing.Breed = breed
		existing.Images = slices.Clone(images)
		existing.CreatedAt = now
		existing.LastAccess = now
		existing.Preloaded = opts.Preloaded
		m.afterStoreLocked(existing, now, opts)
		return existing.clone()
	}

	if len(m.entries) >= m.cfg.MaxEntries {
		m.sweepExpiredLocked(now)
	}
	for len(m.entries) >= m.cfg.MaxEntries {
		m.evictLocked(now)
	}

	e := &Entry{
		Key:        key,
		Breed:      breed,
		Images:     slices.Clone(images),
		CreatedAt:  now,
		LastAccess: now,
		Preloaded:  opts.Preloaded,
	}
	m.entries[key] = e
	m.afterStoreLocked(e, now, opts)
	return e.clone()
}

func (m *Manager) afterStoreLocked(e *Entry, now time.Time, opts PutOptions) {
	if !opts.Preloaded {
		m.recordAccessLocked(e.Breed, now)
	}
	m.publishLocked(events.KindStored, e.Key, e.Breed, len(e.Images), nil)
	m.updateGaugeLocked()
}

// evictLocked removes the single least important entry
func (m *Manager) evictLocked(now time.Time) {
	var victim *Entry
	var victimScore float64
	for _, e := range m.entries {
		score := m.importanceLocked(e, now)
		if victim == nil || lessImportant(e, victim, score, victimScore) {
			victim, victimScore = e, score
		}
	}
	if victim == nil {
		return
	}
	delete(m.entries, victim.Key)
	m.evictions++
	m.log.Debug("Evicted cache entry",
		logger.String("key", victim.Key),
		logger.Float64("importance", victimScore))
	m.publishLocked(events.KindEvicted, victim.Key, victim.Breed, 0, nil)
}

// sweepExpiredLocked removes every expired entry and returns how many
func (m *Manager) sweepExpiredLocked(now time.Time) int {
	removed := 0
	for key, e := range m.entries {
		if !e.validAt(now, m.cfg.Expiry) {
			delete(m.entries, key)
			removed++
		}
	}
	if removed > 0 {
		m.expired += uint64(removed)
		m.publishLocked(events.KindExpired, "", "", removed, nil)
		m.updateGaugeLocked()
	}
	return removed
}

// Load returns the cached entry for key or resolves it with loader.
// Concurrent calls for one key share a single resolution. The resolution is
// detached from ctx, so it completes and is cached even when every caller
// has given up. The boolean reports whether the result came from the cache.
func (m *Manager) Load(ctx context.Context, key, breed string, opts LoadOptions, loader Loader) (Entry, bool, error) {
	if !opts.Refresh {
		if e, ok := m.Get(key); ok {
			return e, true, nil
		}
	}
	e, err := m.share(ctx, key, breed, opts.Preloaded, loader)
	return e, false, err
}

// share joins the in-flight resolution for key or starts one. Preloaded
// only marks the entry when this call starts the flight.
func (m *Manager) share(ctx context.Context, key, breed string, preloaded bool, loader Loader) (Entry, error) {
	detached := context.WithoutCancel(ctx)
	ch := m.flights.DoChan(key, func() (any, error) {
		images, err := loader(detached)
		if err != nil {
			return nil, err
		}
		e := m.Put(key, breed, images, PutOptions{Preloaded: preloaded})
		return e, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, res.Err
		}
		e := res.Val.(Entry)
		return e.clone(), nil
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}

// RecordAccess counts a request for breed in the access analytics
func (m *Manager) RecordAccess(breed string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordAccessLocked(breed, m.clock.Now())
}

func (m *Manager) recordAccessLocked(breed string, now time.Time) {
	if breed == "" {
		return
	}
	rec, ok := m.access[breed]
	if !ok {
		rec = &accessRecord{}
		m.access[breed] = rec
	}
	rec.count++
	rec.last = now
}

// IsCached reports whether any valid entry exists for breed
func (m *Manager) IsCached(breed string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isCachedLocked(breed, m.clock.Now())
}

func (m *Manager) isCachedLocked(breed string, now time.Time) bool {
	for _, e := range m.entries {
		if e.Breed == breed && e.validAt(now, m.cfg.Expiry) {
			return true
		}
	}
	return false
}

// Len returns the number of stored entries, expired ones included
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Clear drops every entry and all access analytics, and empties the durable
// slot. A failed durable write is logged.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	removed := len(m.entries)
	clear(m.entries)
	clear(m.access)
	clear(m.preloading)
	m.publishLocked(events.KindCleared, "", "", removed, nil)
	m.updateGaugeLocked()
	m.mu.Unlock()

	if err := m.store.Save(ctx, []byte("{}")); err != nil {
		m.recordSyncFailure(err)
	}
	m.log.Info("Cache cleared", logger.Int("entries", removed))
}

// ClearBreed removes every entry for breed and returns how many were removed
func (m *Manager) ClearBreed(breed string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.entries {
		if e.Breed == breed {
			delete(m.entries, key)
			removed++
		}
	}
	if removed > 0 {
		m.publishLocked(events.KindCleared, "", breed, removed, nil)
		m.updateGaugeLocked()
	}
	return removed
}

// Stats returns a snapshot of the cache counters
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Entries:         len(m.entries),
		MaxEntries:      m.cfg.MaxEntries,
		Hits:            m.hits,
		Misses:          m.misses,
		TotalRequests:   m.totalRequests,
		Evictions:       m.evictions,
		Expired:         m.expired,
		PreloadSuccess:  m.preloadSuccess,
		PreloadFailures: m.preloadFailures,
		PreloadQueue:    len(m.preloading),
		SyncFailures:    m.syncFailures,
		LastSync:        m.lastSync,
	}
	if m.totalRequests > 0 {
		s.HitRate = float64(m.hits) / float64(m.totalRequests) * 100
	}

	top := make([]BreedAccess, 0, len(m.access))
	for breed, rec := range m.access {
		top = append(top, BreedAccess{Breed: breed, AccessCount: rec.count})
	}
	slices.SortFunc(top, func(a, b BreedAccess) int {
		if c := cmp.Compare(b.AccessCount, a.AccessCount); c != 0 {
			return c
		}
		return cmp.Compare(a.Breed, b.Breed)
	})
	s.TopBreeds = top[:min(len(top), topBreedsLimit)]
	return s
}

func (m *Manager) publishLocked(kind events.CacheEventKind, key, breed string, count int, err error) {
	if m.bus == nil {
		return
	}
	m.bus.TryPublish(events.CacheEvent{
		Kind:      kind,
		Key:       key,
		Breed:     breed,
		Timestamp: m.clock.Now(),
		Err:       err,
		Count:     count,
	})
}

func (m *Manager) updateGaugeLocked() {
	if m.metrics != nil {
		m.metrics.SetEntries(len(m.entries))
	}
}

func (m *Manager) recordSyncFailure(err error) {
	m.mu.Lock()
	m.syncFailures++
	m.publishLocked(events.KindSyncFailed, "", "", 0, err)
	m.mu.Unlock()

	m.log.Warn("Durable cache write failed", logger.Error(err))
}

// cacheError wraps an error with the image-cache category
func cacheError(err error, operation string) error {
	return errors.New(err).
		Component("imagecache").
		Category(errors.CategoryImageCache).
		Context("operation", operation).
		Build()
}
