// Package cache stores downloaded upstream documents on disk or in Redis
package cache

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/config"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/core"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/twmb/murmur3"
)

// ErrCacheMiss is returned when a key is absent or expired
var ErrCacheMiss = errors.New("cache miss")

// New builds the cache selected by cfg.Cache.Backend
func New(cfg *config.Config, log *logger.Logger) (core.Cache, error) {
	switch cfg.Cache.Backend {
	case "", "file":
		return NewFileCache(cfg.Cache.Dir, cfg.Cache.TTL, log)
	case "redis":
		return NewRedisCache(cfg.Redis, log)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// KeyFor derives a stable cache key for a URL: the last path segment for
// readability plus a murmur3 hash of the full URL so distinct sources never collide
func KeyFor(namespace, rawURL string) string {
	base := "document"
	if u, err := url.Parse(rawURL); err == nil {
		if b := path.Base(u.Path); b != "" && b != "." && b != "/" {
			base = b
		}
	}
	return fmt.Sprintf("%s:%s:%08x", namespace, sanitize(base), murmur3.Sum32([]byte(rawURL)))
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
