package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"zoho-order-sync/internal/config"
)

func TestFromConfigFileStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	dir := t.TempDir()
	cfg := config.Config{
		Sync:  config.SyncConfig{CacheTTL: "2 days", Multisite: true, SiteID: "7"},
		Cache: config.CacheConfig{Dir: dir, LockTTL: time.Minute, DistributedLock: true},
	}
	c, err := FromConfig(context.Background(), cfg, defaultRemote(), rdb, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 48*time.Hour, c.opts.TTL)
	fs, ok := c.store.(*FileStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "7"), fs.dir)
	require.NotNil(t, c.opts.Locker)
	assert.Equal(t, "catalog:7:", c.opts.LockKey)

	require.NoError(t, c.Rebuild(context.Background()))
	assert.False(t, mr.Exists("ordersync:lock:catalog:7:items"), "lock released after rebuild")
}

func TestFromConfigWithoutRedis(t *testing.T) {
	cfg := config.Config{
		Sync:  config.SyncConfig{CacheTTL: "disabled"},
		Cache: config.CacheConfig{Dir: t.TempDir(), DistributedLock: true},
	}
	c, err := FromConfig(context.Background(), cfg, defaultRemote(), nil, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, c.Enabled())
	assert.Nil(t, c.opts.Locker)

	cfg.Sync.CacheTTL = "forever"
	_, err = FromConfig(context.Background(), cfg, defaultRemote(), nil, zap.NewNop())
	assert.Error(t, err)
}
