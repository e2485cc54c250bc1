package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ShopCurated/curator-go/internal/infrastructure/backend"
	"github.com/ShopCurated/curator-go/internal/infrastructure/observability/logging"
	"github.com/ShopCurated/curator-go/internal/infrastructure/persistence/kv"
	"github.com/ShopCurated/curator-go/internal/infrastructure/scheduling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfigFetcher struct {
	mu          sync.Mutex
	cfg         backend.ShopConfig
	etag        string
	err         error
	fetches     int
	revalidated int
}

func (f *fakeConfigFetcher) FetchConfig(_ context.Context, etag string) (backend.ShopConfig, string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.fetches++
	if f.err != nil {
		return nil, "", false, f.err
	}
	if etag != "" && etag == f.etag {
		f.revalidated++
		return nil, etag, true, nil
	}
	return f.cfg, f.etag, false, nil
}

func (f *fakeConfigFetcher) set(cfg backend.ShopConfig, etag string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg, f.etag, f.err = cfg, etag, err
}

func (f *fakeConfigFetcher) counts() (fetches, revalidated int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, f.revalidated
}

func newTestConfigService(fetcher *fakeConfigFetcher, clock scheduling.Clock, ttl time.Duration) *ConfigService {
	return NewConfigService(fetcher, kv.NewMemoryStore(clock), ttl, logging.NewTestLogger())
}

func TestConfigServiceCachesWithinTTL(t *testing.T) {
	clock := scheduling.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	fetcher := &fakeConfigFetcher{cfg: backend.ShopConfig{"theme": "light"}, etag: `"v1"`}
	svc := newTestConfigService(fetcher, clock, 5*time.Minute)
	ctx := context.Background()

	cfg, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "light", cfg["theme"])

	clock.Advance(time.Minute)

	cfg, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "light", cfg["theme"])

	fetches, _ := fetcher.counts()
	assert.Equal(t, 1, fetches)
}

func TestConfigServiceRevalidatesAfterTTL(t *testing.T) {
	clock := scheduling.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	fetcher := &fakeConfigFetcher{cfg: backend.ShopConfig{"theme": "light"}, etag: `"v1"`}
	svc := newTestConfigService(fetcher, clock, 5*time.Minute)
	ctx := context.Background()

	_, err := svc.Get(ctx)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)

	// Stale: revalidated with the stored ETag, kept on not-modified.
	cfg, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "light", cfg["theme"])

	fetches, revalidated := fetcher.counts()
	assert.Equal(t, 2, fetches)
	assert.Equal(t, 1, revalidated)

	// The not-modified answer refreshed the freshness stamp.
	_, err = svc.Get(ctx)
	require.NoError(t, err)
	fetches, _ = fetcher.counts()
	assert.Equal(t, 2, fetches)
}

func TestConfigServicePicksUpChangedBody(t *testing.T) {
	clock := scheduling.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	fetcher := &fakeConfigFetcher{cfg: backend.ShopConfig{"theme": "light"}, etag: `"v1"`}
	svc := newTestConfigService(fetcher, clock, 5*time.Minute)
	ctx := context.Background()

	_, err := svc.Get(ctx)
	require.NoError(t, err)

	fetcher.set(backend.ShopConfig{"theme": "dark"}, `"v2"`, nil)
	clock.Advance(10 * time.Minute)

	cfg, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dark", cfg["theme"])
}

func TestConfigServiceServesStaleOnFetchFailure(t *testing.T) {
	clock := scheduling.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	fetcher := &fakeConfigFetcher{cfg: backend.ShopConfig{"theme": "light"}, etag: `"v1"`}
	svc := newTestConfigService(fetcher, clock, 5*time.Minute)
	ctx := context.Background()

	_, err := svc.Get(ctx)
	require.NoError(t, err)

	fetcher.set(nil, "", &backend.Error{Kind: backend.KindNetworkFailure})
	clock.Advance(10 * time.Minute)

	cfg, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "light", cfg["theme"])
}

func TestConfigServiceErrorsWithoutCache(t *testing.T) {
	clock := scheduling.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	fetcher := &fakeConfigFetcher{err: &backend.Error{Kind: backend.KindNetworkFailure}}
	svc := newTestConfigService(fetcher, clock, 5*time.Minute)

	_, err := svc.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, backend.KindNetworkFailure, backend.KindOf(err))
}
