package imagecache

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/tphakala/pawdentify/internal/datastore"
	"github.com/tphakala/pawdentify/internal/errors"
	"github.com/tphakala/pawdentify/internal/events"
	"github.com/tphakala/pawdentify/internal/logger"
)

// syncTimeout bounds a single durable write from the background loop
const syncTimeout = 30 * time.Second

// MaintenanceReport summarises one maintenance pass
type MaintenanceReport struct {
	Expired int
	Synced  int
	SyncErr error
}

// Start launches the maintenance and stats loops. Calling Start on a
// running manager is a no-op.
func (m *Manager) Start() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.quit != nil {
		return
	}
	m.quit = make(chan struct{})
	quit := m.quit

	m.log.Debug("Starting cache maintenance",
		logger.Duration("interval", m.cfg.MaintenanceInterval),
		logger.Duration("stats_interval", m.cfg.StatsInterval))

	m.wg.Go(func() {
		ticker := time.NewTicker(m.cfg.MaintenanceInterval)
		defer ticker.Stop()

		var statsC <-chan time.Time
		if m.cfg.StatsInterval > 0 {
			statsTicker := time.NewTicker(m.cfg.StatsInterval)
			defer statsTicker.Stop()
			statsC = statsTicker.C
		}

		for {
			select {
			case <-quit:
				m.log.Debug("Stopping cache maintenance")
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
				m.RunMaintenance(ctx)
				cancel()
			case <-statsC:
				m.logStats()
			}
		}
	})
}

// Close stops the background loops and waits for them to exit
func (m *Manager) Close() error {
	m.lifecycleMu.Lock()
	quit := m.quit
	m.quit = nil
	m.lifecycleMu.Unlock()

	if quit != nil {
		close(quit)
	}
	m.wg.Wait()
	return nil
}

// RunMaintenance sweeps expired entries and mirrors the most important
// survivors to the durable slot. Sync failures are logged, counted and
// published; they never touch the in-memory cache.
func (m *Manager) RunMaintenance(ctx context.Context) MaintenanceReport {
	m.mu.Lock()
	expired := m.sweepExpiredLocked(m.clock.Now())
	m.mu.Unlock()

	if expired > 0 {
		m.log.Info("Cleaned expired cache entries", logger.Int("count", expired))
	}

	synced, err := m.Sync(ctx)
	return MaintenanceReport{Expired: expired, Synced: synced, SyncErr: err}
}

// Sync replaces the durable snapshot with the top entries by importance
func (m *Manager) Sync(ctx context.Context) (int, error) {
	payload, count := m.snapshot()

	if err := m.store.Save(ctx, payload); err != nil {
		m.recordSyncFailure(err)
		return 0, err
	}

	m.mu.Lock()
	m.lastSync = m.clock.Now()
	m.publishLocked(events.KindSynced, "", "", count, nil)
	m.mu.Unlock()

	m.log.Debug("Synced cache snapshot", logger.Int("entries", count), logger.Int("bytes", len(payload)))
	return count, nil
}

// snapshot encodes the valid entries worth persisting. Entries whose own
// encoding exceeds DurableMaxBytes are skipped.
func (m *Manager) snapshot() ([]byte, int) {
	m.mu.Lock()
	now := m.clock.Now()
	ranked := m.rankedLocked(now)
	limit := min(m.cfg.DurableEntries, m.cfg.DurableMaxEntries)

	out := make(map[string]json.RawMessage, limit)
	for _, e := range ranked {
		if len(out) == limit {
			break
		}
		raw, err := json.Marshal(e)
		if err != nil {
			m.log.Warn("Skipping unencodable cache entry", logger.String("key", e.Key), logger.Error(err))
			continue
		}
		if len(raw) > m.cfg.DurableMaxBytes {
			m.log.Debug("Skipping oversized cache entry",
				logger.String("key", e.Key), logger.Int("bytes", len(raw)))
			continue
		}
		out[e.Key] = raw
	}
	m.mu.Unlock()

	payload, err := json.Marshal(out)
	if err != nil {
		// RawMessage values are already valid JSON
		payload = []byte("{}")
	}
	return payload, len(out)
}

// rankedLocked returns valid entries, most important first
func (m *Manager) rankedLocked(now time.Time) []*Entry {
	type scored struct {
		e     *Entry
		score float64
	}
	list := make([]scored, 0, len(m.entries))
	for _, e := range m.entries {
		if e.validAt(now, m.cfg.Expiry) {
			list = append(list, scored{e, m.importanceLocked(e, now)})
		}
	}
	slices.SortFunc(list, func(a, b scored) int {
		return compareImportanceDesc(a.e, b.e, a.score, b.score)
	})

	out := make([]*Entry, len(list))
	for i, s := range list {
		out[i] = s.e
	}
	return out
}

// Restore reads the durable slot back into memory. Corrupt, oversized,
// expired and empty entries are skipped, as are keys already present in
// memory. At most DurableMaxEntries entries are restored, and never more than
// the cache has room for.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	payload, err := m.store.Load(ctx)
	if errors.Is(err, datastore.ErrSlotEmpty) {
		return 0, nil
	}
	if err != nil {
		return 0, cacheError(err, "restore")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		m.log.Warn("Discarding corrupt durable cache snapshot", logger.Error(err))
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()

	candidates := make([]*Entry, 0, len(raw))
	skipped := 0
	for key, data := range raw {
		if len(data) > m.cfg.DurableMaxBytes {
			skipped++
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			skipped++
			continue
		}
		e.Key = key
		if e.Breed == "" || len(e.Images) == 0 || !e.validAt(now, m.cfg.Expiry) {
			skipped++
			continue
		}
		if _, exists := m.entries[key]; exists {
			continue
		}
		candidates = append(candidates, &e)
	}

	// most important first so the caps keep the best entries
	slices.SortFunc(candidates, func(a, b *Entry) int {
		return compareImportanceDesc(a, b, m.importanceLocked(a, now), m.importanceLocked(b, now))
	})

	room := min(m.cfg.DurableMaxEntries, m.cfg.MaxEntries-len(m.entries))
	restored := 0
	for _, e := range candidates {
		if restored >= room {
			break
		}
		m.entries[e.Key] = e
		if e.LastAccess.IsZero() {
			e.LastAccess = e.CreatedAt
		}
		restored++
	}
	m.updateGaugeLocked()

	m.log.Info("Restored cache entries from durable storage",
		logger.Int("restored", restored),
		logger.Int("skipped", skipped))
	return restored, nil
}

func (m *Manager) logStats() {
	s := m.Stats()
	m.log.Info("Cache statistics",
		logger.Int("entries", s.Entries),
		logger.Int("max_entries", s.MaxEntries),
		logger.Uint64("hits", s.Hits),
		logger.Uint64("misses", s.Misses),
		logger.Float64("hit_rate", s.HitRate),
		logger.Uint64("evictions", s.Evictions),
		logger.Uint64("preload_success", s.PreloadSuccess),
		logger.Int("preload_queue", s.PreloadQueue),
		logger.Uint64("sync_failures", s.SyncFailures))
}
