package app

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pawdentify/internal/breedimages"
	"github.com/tphakala/pawdentify/internal/buildinfo"
	"github.com/tphakala/pawdentify/internal/conf"
)

// newDogCEOServer answers every dog.ceo request with three images
func newDogCEOServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"status":"success","message":[
			"https://images.dog.test/breeds/pug/a.jpg",
			"https://images.dog.test/breeds/pug/b.jpg",
			"https://images.dog.test/breeds/pug/c.jpg"]}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func loadSettings(t *testing.T, dogCEO string) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`
logging:
  console:
    enabled: false
  file_output:
    enabled: false
classifier:
  endpoint: ""
sources:
  dogceo:
    baseurl: %s
  unsplash:
    enabled: false
cache:
  durable:
    type: file
    file:
      path: data/cache.json
`, dogCEO)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	settings, err := conf.Load(path)
	require.NoError(t, err)
	return settings
}

func TestNewRequiresSettings(t *testing.T) {
	t.Parallel()
	_, err := New(t.Context(), &Context{}, Options{})
	require.Error(t, err)
}

func TestRuntimePersistsCacheAcrossRestarts(t *testing.T) {
	t.Parallel()
	srv, calls := newDogCEOServer(t)
	settings := loadSettings(t, srv.URL)
	appCtx := &Context{Settings: settings, Build: buildinfo.NewContext("v0.0.1", "2026-10-01")}

	rt, err := New(t.Context(), appCtx, Options{Restore: true})
	require.NoError(t, err)
	require.NotNil(t, rt.Service)

	res := rt.Service.FetchBreedImages(t.Context(), "Pug", breedimages.DefaultOptions())
	require.True(t, res.Success, "fetch failed: %v", res.Err)
	assert.Equal(t, 1, rt.Service.Stats().Entries)
	assert.Positive(t, calls.Load())

	require.NoError(t, rt.Close())
	assert.FileExists(t, filepath.Join(filepath.Dir(settings.ConfigFile), "data", "cache.json"))

	before := calls.Load()
	rt, err = New(t.Context(), appCtx, Options{Restore: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	assert.Equal(t, 1, rt.Service.Stats().Entries)
	res = rt.Service.FetchBreedImages(t.Context(), "Pug", breedimages.DefaultOptions())
	require.True(t, res.Success)
	assert.True(t, res.Metadata.Cached)
	assert.Equal(t, before, calls.Load(), "restored entry should be served without a source call")
}

func TestRuntimeWithoutSources(t *testing.T) {
	t.Parallel()
	settings := loadSettings(t, "http://127.0.0.1:1")
	settings.Sources.DogCEO.Enabled = false
	settings.Cache.Durable.Type = "memory"

	rt, err := New(t.Context(), &Context{Settings: settings, Build: buildinfo.NewContext("", "")}, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	assert.Empty(t, rt.Service.SourceStatus(t.Context(), false))
	cfg := rt.APIConfig()
	assert.Equal(t, settings.Server.Listen, cfg.Listen)
	assert.Equal(t, settings.Server.BodyLimit, cfg.BodyLimit)
}
