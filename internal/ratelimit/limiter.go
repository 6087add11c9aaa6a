package ratelimit

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/config"
	"golang.org/x/time/rate"
)

// Limiter paces outbound requests to the upstream data sources. A global token bucket
// caps the overall rate and a per-host minimum delay spaces out requests to the same
// server (D3FEND is queried once per technique).
type Limiter struct {
	limiter      *rate.Limiter
	requestDelay time.Duration
	burstSize    int
	lastRequest  map[string]time.Time
	mu           sync.Mutex
}

type Config struct {
	RequestsPerSecond float64
	BurstSize         int
	MinDelay          time.Duration
}

// DefaultConfig keeps well under the public D3FEND API's tolerance
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 5.0,
		BurstSize:         5,
		MinDelay:          100 * time.Millisecond,
	}
}

// FromSettings builds a limiter config from the rate_limit section. Zero values keep
// the defaults.
func FromSettings(cfg config.RateLimitConfig) Config {
	c := DefaultConfig()
	if cfg.RequestsPerSecond > 0 {
		c.RequestsPerSecond = cfg.RequestsPerSecond
		c.MinDelay = time.Duration(float64(time.Second) / cfg.RequestsPerSecond / 2)
	}
	if cfg.BurstSize > 0 {
		c.BurstSize = cfg.BurstSize
	}
	return c
}

func NewLimiter(cfg Config) *Limiter {
	if cfg.BurstSize < 1 {
		cfg.BurstSize = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
		requestDelay: cfg.MinDelay,
		burstSize:    cfg.BurstSize,
		lastRequest:  make(map[string]time.Time),
	}
}

// Wait blocks until the global bucket allows a request
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// WaitForHost applies the global limit, then the per-host minimum delay
func (l *Limiter) WaitForHost(ctx context.Context, host string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if last, ok := l.lastRequest[host]; ok {
		elapsed := time.Since(last)
		if elapsed < l.requestDelay {
			select {
			case <-time.After(l.requestDelay - elapsed):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	l.lastRequest[host] = time.Now()
	return nil
}

// WaitForURL is WaitForHost keyed by the URL's host
func (l *Limiter) WaitForURL(ctx context.Context, rawURL string) error {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return l.WaitForHost(ctx, host)
}

// Allow reports whether a request may go out now without blocking
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastRequest = make(map[string]time.Time)
}

type Stats struct {
	TrackedHosts int
	BurstSize    int
	RequestDelay time.Duration
}

func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		TrackedHosts: len(l.lastRequest),
		BurstSize:    l.burstSize,
		RequestDelay: l.requestDelay,
	}
}
