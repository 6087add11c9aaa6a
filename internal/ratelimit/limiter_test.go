package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/config"
)

func TestNewLimiter(t *testing.T) {
	cfg := DefaultConfig()
	limiter := NewLimiter(cfg)

	if limiter == nil {
		t.Fatal("NewLimiter() should return non-nil limiter")
	}

	stats := limiter.GetStats()
	if stats.BurstSize != cfg.BurstSize {
		t.Errorf("stats.BurstSize = %v, want %v", stats.BurstSize, cfg.BurstSize)
	}
	if stats.RequestDelay != cfg.MinDelay {
		t.Errorf("stats.RequestDelay = %v, want %v", stats.RequestDelay, cfg.MinDelay)
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.RateLimitConfig{})
	if cfg != DefaultConfig() {
		t.Errorf("FromSettings(zero) = %+v, want defaults", cfg)
	}

	cfg = FromSettings(config.RateLimitConfig{RequestsPerSecond: 2, BurstSize: 1})
	if cfg.RequestsPerSecond != 2 || cfg.BurstSize != 1 {
		t.Errorf("FromSettings() = %+v", cfg)
	}
	if cfg.MinDelay != 250*time.Millisecond {
		t.Errorf("MinDelay = %v, want 250ms", cfg.MinDelay)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(Config{
		RequestsPerSecond: 10.0,
		BurstSize:         2,
		MinDelay:          10 * time.Millisecond,
	})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := limiter.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if d := time.Since(start); d > 50*time.Millisecond {
		t.Errorf("Burst requests took too long: %v", d)
	}

	start = time.Now()
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if d := time.Since(start); d < 50*time.Millisecond {
		t.Errorf("Rate limiter did not delay enough: %v", d)
	}
}

func TestLimiter_WaitForHost(t *testing.T) {
	cfg := Config{
		RequestsPerSecond: 100.0,
		BurstSize:         10,
		MinDelay:          50 * time.Millisecond,
	}
	limiter := NewLimiter(cfg)
	ctx := context.Background()

	if err := limiter.WaitForHost(ctx, "d3fend.mitre.org"); err != nil {
		t.Fatalf("WaitForHost() error = %v", err)
	}

	start := time.Now()
	if err := limiter.WaitForHost(ctx, "d3fend.mitre.org"); err != nil {
		t.Fatalf("WaitForHost() error = %v", err)
	}
	if d := time.Since(start); d < cfg.MinDelay-5*time.Millisecond {
		t.Errorf("Per-host rate limit did not enforce min delay: %v < %v", d, cfg.MinDelay)
	}
}

func TestLimiter_WaitForURL(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 100, BurstSize: 10, MinDelay: time.Millisecond})
	ctx := context.Background()

	urls := []string{
		"https://d3fend.mitre.org/api/offensive-technique/attack/T1055.json",
		"https://d3fend.mitre.org/api/offensive-technique/attack/T1003.json",
		"https://raw.githubusercontent.com/mitre/cti/master/enterprise-attack/enterprise-attack.json",
	}
	for _, u := range urls {
		if err := limiter.WaitForURL(ctx, u); err != nil {
			t.Fatalf("WaitForURL(%s) error = %v", u, err)
		}
	}

	if got := limiter.GetStats().TrackedHosts; got != 2 {
		t.Errorf("TrackedHosts = %d, want 2", got)
	}

	limiter.Reset()
	if got := limiter.GetStats().TrackedHosts; got != 0 {
		t.Errorf("TrackedHosts after Reset = %d, want 0", got)
	}
}

func TestLimiter_ContextCancellation(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, MinDelay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	if err := limiter.WaitForHost(ctx, "example.com"); err != nil {
		t.Fatalf("WaitForHost() error = %v", err)
	}

	cancel()
	if err := limiter.WaitForHost(ctx, "example.com"); err == nil {
		t.Error("WaitForHost() should fail once the context is cancelled")
	}
}

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(Config{RequestsPerSecond: 0.001, BurstSize: 1})

	if !limiter.Allow() {
		t.Error("first request should be allowed")
	}
	if limiter.Allow() {
		t.Error("second request should be throttled")
	}
}
