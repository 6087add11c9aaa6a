// Package source acquires the ATT&CK bundle and optional D3FEND mappings
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/cache"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/config"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/core"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
)

const bundleNamespace = "bundle"

// Fetcher loads the enterprise ATT&CK bundle from a local file, the cache or the network.
// It performs a single request per download; failures are returned to the caller.
type Fetcher struct {
	cfg      config.SourceConfig
	cacheTTL time.Duration
	client   *http.Client
	limiter  *ratelimit.Limiter
	cache    core.Cache
	logger   *logger.Logger
}

type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default guarded client
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

func WithLimiter(l *ratelimit.Limiter) FetcherOption {
	return func(f *Fetcher) { f.limiter = l }
}

// WithCacheTTL sets the expiry used when storing downloads
func WithCacheTTL(ttl time.Duration) FetcherOption {
	return func(f *Fetcher) { f.cacheTTL = ttl }
}

// NewFetcher builds a fetcher. c may be nil, in which case nothing is cached.
func NewFetcher(cfg config.SourceConfig, c core.Cache, log *logger.Logger, opts ...FetcherOption) *Fetcher {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.URL == "" {
		cfg.URL = config.DefaultBundleURL
	}

	clientCfg := httpclient.DefaultConfig()
	if cfg.Timeout > 0 {
		clientCfg.Timeout = cfg.Timeout
	}
	if cfg.UserAgent != "" {
		clientCfg.UserAgent = cfg.UserAgent
	}

	f := &Fetcher{
		cfg:     cfg,
		client:  httpclient.NewClient(clientCfg),
		limiter: ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		cache:   c,
		logger:  log.WithComponent("source"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CacheKey is the key the bundle is stored under
func (f *Fetcher) CacheKey() string {
	return cache.KeyFor(bundleNamespace, f.cfg.URL)
}

// Bundle returns the raw bundle bytes. A configured BundlePath wins; otherwise the cache
// is consulted when use_cache is on and force is false, then the bundle is downloaded
// and stored.
func (f *Fetcher) Bundle(ctx context.Context, force bool) ([]byte, error) {
	if f.cfg.BundlePath != "" {
		f.logger.Infow("Loading STIX data from file", "path", f.cfg.BundlePath)
		data, err := os.ReadFile(f.cfg.BundlePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read bundle %s: %w", f.cfg.BundlePath, err)
		}
		return data, nil
	}

	key := f.CacheKey()
	if f.cache != nil && f.cfg.UseCache && !force {
		data, err := f.cache.Get(ctx, key)
		switch {
		case err == nil:
			f.logger.Infow("Loading STIX data from cache", "key", key, "bytes", len(data))
			return data, nil
		case errors.Is(err, cache.ErrCacheMiss):
			f.logger.Debugw("Bundle not cached", "key", key)
		default:
			f.logger.Warnw("Cache read failed, downloading instead", "key", key, "error", err)
		}
	}

	data, err := f.download(ctx)
	if err != nil {
		return nil, err
	}

	if f.cache != nil {
		if err := f.cache.Set(ctx, key, data, f.cacheTTL); err != nil {
			f.logger.Warnw("Failed to cache bundle", "key", key, "error", err)
		}
	}
	return data, nil
}

func (f *Fetcher) download(ctx context.Context) ([]byte, error) {
	f.logger.Infow("Downloading latest STIX data", "url", f.cfg.URL)

	if err := f.limiter.WaitForURL(ctx, f.cfg.URL); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	data, err := httpclient.Get(ctx, f.client, f.cfg.URL, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, fmt.Errorf("failed to download bundle: %w", err)
	}

	f.logger.LogHTTPRequest(ctx, http.MethodGet, f.cfg.URL, http.StatusOK, time.Since(start), "bytes", len(data))
	return data, nil
}

// Load fetches and decodes the bundle
func (f *Fetcher) Load(ctx context.Context) (*attack.Dataset, error) {
	data, err := f.Bundle(ctx, false)
	if err != nil {
		return nil, err
	}

	ds, stats, err := ParseBundle(data)
	if err != nil {
		return nil, err
	}

	f.logger.Infow("Loaded ATT&CK data",
		"techniques", len(ds.Techniques),
		"groups", len(ds.Groups),
		"mitigations", len(ds.Mitigations),
		"relationships", len(ds.Relationships),
		"skipped_revoked_or_deprecated", stats.Skipped,
		"skipped_without_attack_id", stats.NoAttackID,
	)
	return ds, nil
}
