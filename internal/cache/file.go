package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
)

// FileCache keeps one file per key under dir. Entries older than maxAge are misses;
// a zero maxAge never expires, which matches reusing a previously downloaded bundle.
type FileCache struct {
	dir    string
	maxAge time.Duration
	logger *logger.Logger
	now    func() time.Time
}

func NewFileCache(dir string, maxAge time.Duration, log *logger.Logger) (*FileCache, error) {
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &FileCache{
		dir:    dir,
		maxAge: maxAge,
		logger: log.WithComponent("file-cache"),
		now:    time.Now,
	}, nil
}

// Path returns the file backing key
func (c *FileCache) Path(key string) string {
	return filepath.Join(c.dir, sanitize(key))
}

func (c *FileCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := c.Path(key)
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat cache entry %s: %w", p, err)
	}

	if c.maxAge > 0 && c.now().Sub(info.ModTime()) > c.maxAge {
		c.logger.Debugw("Cache entry expired", "key", key, "age", c.now().Sub(info.ModTime()).String())
		return nil, ErrCacheMiss
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry %s: %w", p, err)
	}
	return data, nil
}

// Set writes value atomically. The ttl argument is not used; file entries age out by maxAge.
func (c *FileCache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := c.Path(key)
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close cache entry: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move cache entry into place: %w", err)
	}

	c.logger.Debugw("Cached document", "key", key, "path", p, "bytes", len(value))
	return nil
}

func (c *FileCache) Delete(ctx context.Context, key string) error {
	if err := os.Remove(c.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (c *FileCache) Close() error {
	return nil
}
