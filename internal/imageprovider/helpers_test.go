package imageprovider

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"

	"github.com/tphakala/pawdentify/internal/breeds"
	"github.com/tphakala/pawdentify/internal/httpclient"
	"github.com/tphakala/pawdentify/internal/logger"
)

const testDogCEOBase = "https://dog.test/api"

func testLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
}

// newMockClient returns an httpclient whose transport is an httpmock mock
func newMockClient(t *testing.T) (*httpclient.Client, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	client := httpclient.New(&httpclient.Config{Transport: mock, DefaultTimeout: 5 * time.Second})
	t.Cleanup(client.Close)
	return client, mock
}

func yorkshireRecord() breeds.Record {
	return breeds.Record{
		ClassifierLabel:   "Yorkshire_terrier",
		DisplayName:       "Yorkshire Terrier",
		ExternalSourceKey: "terrier/yorkshire",
		SearchTerms:       []string{"yorkshire terrier", "yorkie"},
	}
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubSource is an in-memory ImageSource
type stubSource struct {
	name      SourceName
	available bool
	images    []ImageDescriptor
	err       error
	delay     time.Duration
	calls     atomic.Int32
}

func (s *stubSource) Name() SourceName { return s.name }
func (s *stubSource) Available() bool  { return s.available }

func (s *stubSource) FetchImages(ctx context.Context, _ breeds.Record, count int) ([]ImageDescriptor, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	if len(s.images) > count {
		return s.images[:count], nil
	}
	return s.images, nil
}

func descriptor(source SourceName, url string, relevance float64) ImageDescriptor {
	return ImageDescriptor{
		ID:             url,
		URL:            url,
		ThumbnailURL:   url,
		Source:         source,
		Quality:        source.Quality(),
		BreedRelevance: relevance,
	}
}
