package catalog

import (
	"context"
	"path"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"zoho-order-sync/internal/config"
)

// FromConfig builds the cache the binaries share. Snapshots go to S3 when a
// bucket is configured and to the local cache directory otherwise. rdb may be
// nil, in which case rebuilds are only guarded within the process.
func FromConfig(ctx context.Context, cfg config.Config, remote Remote, rdb *redis.Client, log *zap.Logger) (*Cache, error) {
	ttl, err := ParseTTL(cfg.Sync.CacheTTL)
	if err != nil {
		return nil, err
	}

	var store SnapshotStore
	if cfg.Cache.S3Bucket != "" {
		client, err := NewS3Client(ctx, cfg.Cache)
		if err != nil {
			return nil, err
		}
		prefix := cfg.Cache.S3Prefix
		if cfg.Sync.Multisite && !cfg.Sync.SharedCache && cfg.Sync.SiteID != "" {
			prefix = path.Join(prefix, cfg.Sync.SiteID)
		}
		store = NewS3Store(client, cfg.Cache.S3Bucket, prefix)
	} else {
		store = NewFileStore(SnapshotDir(cfg.Cache, cfg.Sync))
	}

	opts := Options{TTL: ttl, LockTTL: cfg.Cache.LockTTL}
	if cfg.Cache.DistributedLock && rdb != nil {
		opts.Locker = NewRedisLocker(rdb, "ordersync:lock:")
		opts.LockKey = "catalog:" + lockScope(cfg.Sync)
	}
	return New(store, remote, opts, log), nil
}

func lockScope(sync config.SyncConfig) string {
	if sync.Multisite && !sync.SharedCache && sync.SiteID != "" {
		return sync.SiteID + ":"
	}
	return ""
}
