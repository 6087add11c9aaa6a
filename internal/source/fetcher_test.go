package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/cache"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/config"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: 1000, BurstSize: 100})
}

func bundleServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	data, err := os.ReadFile("testdata/bundle.json")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestFetcher(t *testing.T, cfg config.SourceConfig, c *cache.FileCache) *Fetcher {
	t.Helper()
	opts := []FetcherOption{
		WithHTTPClient(httpclient.NewUnsafeClient(5 * time.Second)),
		WithLimiter(fastLimiter()),
	}
	if c == nil {
		return NewFetcher(cfg, nil, logger.NewNop(), opts...)
	}
	return NewFetcher(cfg, c, logger.NewNop(), opts...)
}

func TestFetcherDownloadsAndCaches(t *testing.T) {
	var hits int32
	srv := bundleServer(t, &hits)

	fc, err := cache.NewFileCache(t.TempDir(), 0, nil)
	require.NoError(t, err)

	f := newTestFetcher(t, config.SourceConfig{URL: srv.URL + "/enterprise-attack.json", UseCache: true}, fc)
	ctx := context.Background()

	ds, err := f.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, ds.Techniques, 2)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))

	_, err = f.Load(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "second load must come from the cache")

	_, err = f.Bundle(ctx, true)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits), "force bypasses the cache")
}

func TestFetcherUseCacheDisabled(t *testing.T) {
	var hits int32
	srv := bundleServer(t, &hits)

	fc, err := cache.NewFileCache(t.TempDir(), 0, nil)
	require.NoError(t, err)

	f := newTestFetcher(t, config.SourceConfig{URL: srv.URL + "/enterprise-attack.json"}, fc)
	ctx := context.Background()

	_, err = f.Bundle(ctx, false)
	require.NoError(t, err)
	_, err = f.Bundle(ctx, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))

	_, err = fc.Get(ctx, f.CacheKey())
	assert.NoError(t, err, "downloads are still stored for later runs")
}

func TestFetcherBundlePath(t *testing.T) {
	f := newTestFetcher(t, config.SourceConfig{BundlePath: filepath.Join("testdata", "bundle.json")}, nil)

	ds, err := f.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, ds.Groups, 1)

	f = newTestFetcher(t, config.SourceConfig{BundlePath: filepath.Join(t.TempDir(), "missing.json")}, nil)
	_, err = f.Load(context.Background())
	assert.Error(t, err)
}

func TestFetcherHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newTestFetcher(t, config.SourceConfig{URL: srv.URL}, nil)
	_, err := f.Load(context.Background())
	require.Error(t, err)

	var statusErr *httpclient.StatusError
	assert.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestNewFetcherDefaults(t *testing.T) {
	f := NewFetcher(config.SourceConfig{}, nil, nil)
	assert.Equal(t, config.DefaultBundleURL, f.cfg.URL)
}
