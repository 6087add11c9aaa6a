package cache

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/config"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	a := KeyFor("bundle", "https://raw.githubusercontent.com/mitre/cti/master/enterprise-attack/enterprise-attack.json")
	b := KeyFor("bundle", "https://example.com/mirror/enterprise-attack.json")

	assert.True(t, strings.HasPrefix(a, "bundle:enterprise-attack.json:"), a)
	assert.NotEqual(t, a, b, "same file name from different hosts must not collide")
	assert.Equal(t, a, KeyFor("bundle", "https://raw.githubusercontent.com/mitre/cti/master/enterprise-attack/enterprise-attack.json"))

	assert.True(t, strings.HasPrefix(KeyFor("d3fend", "https://host/"), "d3fend:document:"))
}

func TestFileCacheRoundTrip(t *testing.T) {
	c, err := NewFileCache(t.TempDir(), 0, logger.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Get(ctx, "bundle:enterprise-attack.json:abcd")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "bundle:enterprise-attack.json:abcd", []byte(`{"type":"bundle"}`), 0))

	data, err := c.Get(ctx, "bundle:enterprise-attack.json:abcd")
	require.NoError(t, err)
	assert.Equal(t, `{"type":"bundle"}`, string(data))

	require.NoError(t, c.Delete(ctx, "bundle:enterprise-attack.json:abcd"))
	_, err = c.Get(ctx, "bundle:enterprise-attack.json:abcd")
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.NoError(t, c.Delete(ctx, "never-set"))
}

func TestFileCacheExpiry(t *testing.T) {
	c, err := NewFileCache(t.TempDir(), time.Hour, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))

	_, err = c.Get(ctx, "k")
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(c.Path("k"), old, old))

	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestFileCachePathIsSanitized(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCache(dir, 0, nil)
	require.NoError(t, err)

	p := c.Path("../../etc/passwd")
	assert.True(t, strings.HasPrefix(p, dir), p)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	c, err := NewRedisCache(config.RedisConfig{Addr: mr.Addr()}, logger.NewNop())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()

	_, err = c.Get(ctx, "bundle")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "bundle", []byte("payload"), time.Minute))
	data, err := c.Get(ctx, "bundle")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.True(t, mr.Exists(keyPrefix+"bundle"))

	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, "bundle")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "forever", []byte("x"), 0))
	require.NoError(t, c.Delete(ctx, "forever"))
	_, err = c.Get(ctx, "forever")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCacheConnectionFailure(t *testing.T) {
	c, err := NewRedisCache(config.RedisConfig{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
	}, nil)
	assert.Error(t, err)
	assert.Nil(t, c)
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.Dir = t.TempDir()

	c, err := New(cfg, logger.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &FileCache{}, c)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg.Cache.Backend = "redis"
	cfg.Redis.Addr = mr.Addr()
	c, err = New(cfg, logger.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &RedisCache{}, c)
	c.Close()

	cfg.Cache.Backend = "memcached"
	_, err = New(cfg, logger.NewNop())
	assert.Error(t, err)
}
