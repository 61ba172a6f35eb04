package imagecache

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pawdentify/internal/datastore"
	"github.com/tphakala/pawdentify/internal/imageprovider"
)

func TestRunMaintenanceSweepsAndSyncsTopEntries(t *testing.T) {
	t.Parallel()
	store := datastore.NewMemoryStore()
	m, clock := newTestManager(t, Config{}, WithStore(store))

	m.Put("expiring", "Expiring", images("expiring", 1), PutOptions{})
	clock.Advance(23 * time.Hour)
	for i := range 15 {
		m.Put(fmt.Sprintf("k%02d", i), fmt.Sprintf("B%02d", i), images("b", 1), PutOptions{})
		clock.Advance(time.Minute)
	}
	// the two most read entries must make the snapshot
	for range 3 {
		m.Get("k00")
		m.Get("k01")
	}
	clock.Advance(time.Hour)

	report := m.RunMaintenance(t.Context())
	require.NoError(t, report.SyncErr)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 10, report.Synced)
	assert.Equal(t, 15, m.Len())

	payload, err := store.Load(t.Context())
	require.NoError(t, err)
	var snapshot map[string]Entry
	require.NoError(t, json.Unmarshal(payload, &snapshot))
	assert.Len(t, snapshot, 10)
	assert.Contains(t, snapshot, "k00")
	assert.Contains(t, snapshot, "k01")
	assert.Contains(t, snapshot, "k14", "newest entries rank above older unread ones")
	assert.NotContains(t, snapshot, "k02")
	assert.Equal(t, clock.Now(), m.Stats().LastSync)
}

func TestSyncSkipsOversizedEntries(t *testing.T) {
	t.Parallel()
	store := datastore.NewMemoryStore()
	m, _ := newTestManager(t, Config{DurableMaxBytes: 2000}, WithStore(store))

	big := images("big", 1)
	big[0].Alt = strings.Repeat("x", 4000)
	m.Put("big", "Big", big, PutOptions{Preloaded: true})
	m.Put("small", "Small", images("small", 1), PutOptions{})

	n, err := m.Sync(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	payload, err := store.Load(t.Context())
	require.NoError(t, err)
	assert.NotContains(t, string(payload), `"big"`)
}

func TestSyncFailureLeavesMemoryIntact(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, Config{}, WithStore(&failingStore{}))
	m.Put("k", "Pug", images("pug", 2), PutOptions{})

	report := m.RunMaintenance(t.Context())
	require.Error(t, report.SyncErr)
	assert.Equal(t, uint64(1), m.Stats().SyncFailures)

	e, ok := m.Get("k")
	require.True(t, ok)
	assert.Len(t, e.Images, 2)
}

func TestRestoreRoundTrip(t *testing.T) {
	t.Parallel()
	store := datastore.NewMemoryStore()

	first, clock := newTestManager(t, Config{}, WithStore(store))
	first.Put("k1", "Pug", images("pug", 2), PutOptions{})
	first.Put("k2", "Chow", images("chow", 3), PutOptions{Preloaded: true})
	_, err := first.Sync(t.Context())
	require.NoError(t, err)

	second := NewManager(Config{}, WithStore(store), WithClock(clock), WithLogger(testLogger()))
	n, err := second.Restore(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	e, ok := second.Get("k2")
	require.True(t, ok)
	assert.True(t, e.Preloaded)
	assert.Equal(t, images("chow", 3), e.Images)
}

func TestRestoreSkipsInvalidEntries(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	now := clock.Now()

	valid := Entry{Breed: "Pug", Images: images("pug", 1), CreatedAt: now.Add(-time.Hour)}
	expired := Entry{Breed: "Chow", Images: images("chow", 1), CreatedAt: now.Add(-25 * time.Hour)}
	noImages := Entry{Breed: "Basenji", CreatedAt: now}
	encode := func(e Entry) json.RawMessage {
		b, err := json.Marshal(e)
		require.NoError(t, err)
		return b
	}
	huge := Entry{Breed: "Big", Images: images("big", 1), CreatedAt: now}
	huge.Images[0].Alt = strings.Repeat("y", 200_000)

	payload, err := json.Marshal(map[string]json.RawMessage{
		"valid":     encode(valid),
		"expired":   encode(expired),
		"no-images": encode(noImages),
		"corrupt":   json.RawMessage(`{"breed": 42}`),
		"huge":      encode(huge),
	})
	require.NoError(t, err)

	store := datastore.NewMemoryStore()
	require.NoError(t, store.Save(t.Context(), payload))

	m := NewManager(Config{}, WithStore(store), WithClock(clock), WithLogger(testLogger()))
	n, err := m.Restore(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	e, ok := m.Peek("valid")
	require.True(t, ok)
	assert.Equal(t, "valid", e.Key, "key comes from the snapshot map")
}

func TestRestoreCorruptSnapshotIsNotFatal(t *testing.T) {
	t.Parallel()
	store := datastore.NewMemoryStore()
	require.NoError(t, store.Save(t.Context(), []byte("not json")))

	m, _ := newTestManager(t, Config{}, WithStore(store))
	n, err := m.Restore(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRestoreRespectsCaps(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()

	snapshot := make(map[string]Entry)
	for i := range 30 {
		snapshot[fmt.Sprintf("k%02d", i)] = Entry{
			Breed:       fmt.Sprintf("B%02d", i),
			Images:      []imageprovider.ImageDescriptor{{URL: "https://x.test/a.jpg"}},
			CreatedAt:   clock.Now().Add(-time.Minute),
			AccessCount: i,
		}
	}
	payload, err := json.Marshal(snapshot)
	require.NoError(t, err)
	store := datastore.NewMemoryStore()
	require.NoError(t, store.Save(t.Context(), payload))

	m := NewManager(Config{}, WithStore(store), WithClock(clock), WithLogger(testLogger()))
	n, err := m.Restore(t.Context())
	require.NoError(t, err)
	assert.Equal(t, DefaultDurableMaxEntries, n)

	_, ok := m.Peek("k29")
	assert.True(t, ok, "most accessed entries are restored first")
	_, ok = m.Peek("k00")
	assert.False(t, ok)

	small := NewManager(Config{MaxEntries: 5}, WithStore(store), WithClock(clock), WithLogger(testLogger()))
	n, err = small.Restore(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestStartAndClose(t *testing.T) {
	t.Parallel()
	store := datastore.NewMemoryStore()
	m := NewManager(Config{MaintenanceInterval: 5 * time.Millisecond, StatsInterval: 5 * time.Millisecond},
		WithStore(store), WithLogger(testLogger()))
	m.Put("k", "Pug", images("pug", 1), PutOptions{})

	m.Start()
	m.Start()
	require.Eventually(t, func() bool { return store.Saves() > 0 }, time.Second, time.Millisecond)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}
