package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"zoho-order-sync/internal/config"
)

// Resource names one of the cached remote collections.
type Resource string

const (
	ResourceItems Resource = "items"
	ResourceTaxes Resource = "taxes"
)

func (r Resource) fileName() string {
	return string(r) + ".json"
}

// ErrSnapshotMissing is returned when no snapshot has been written yet.
var ErrSnapshotMissing = errors.New("catalog: snapshot missing")

// SnapshotStore persists the raw JSON of each resource.
type SnapshotStore interface {
	// ModTime is when the snapshot was last written.
	ModTime(ctx context.Context, r Resource) (time.Time, error)
	Read(ctx context.Context, r Resource) ([]byte, error)
	// Write replaces the snapshot atomically.
	Write(ctx context.Context, r Resource, data []byte) error
	// Delete removes the snapshot. Deleting a missing snapshot is not an error.
	Delete(ctx context.Context, r Resource) error
}

// SnapshotDir is the per-site snapshot directory. Sites of a multisite
// install share one directory only when SharedCache is set.
func SnapshotDir(cache config.CacheConfig, sync config.SyncConfig) string {
	if sync.Multisite && !sync.SharedCache && sync.SiteID != "" {
		return filepath.Join(cache.Dir, sync.SiteID)
	}
	return cache.Dir
}

// FileStore keeps snapshots as files on local disk.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(r Resource) string {
	return filepath.Join(s.dir, r.fileName())
}

func (s *FileStore) ModTime(_ context.Context, r Resource) (time.Time, error) {
	info, err := os.Stat(s.path(r))
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, ErrSnapshotMissing
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("stat %s snapshot: %w", r, err)
	}
	return info.ModTime(), nil
}

func (s *FileStore) Read(_ context.Context, r Resource) ([]byte, error) {
	data, err := os.ReadFile(s.path(r))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrSnapshotMissing
	}
	if err != nil {
		return nil, fmt.Errorf("read %s snapshot: %w", r, err)
	}
	return data, nil
}

// Write goes through a temp file and rename so readers never see a partial snapshot.
func (s *FileStore) Write(_ context.Context, r Resource, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, r.fileName()+".*.tmp")
	if err != nil {
		return fmt.Errorf("create %s temp file: %w", r, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s snapshot: %w", r, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s snapshot: %w", r, err)
	}
	if err := os.Rename(tmp.Name(), s.path(r)); err != nil {
		return fmt.Errorf("replace %s snapshot: %w", r, err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, r Resource) error {
	err := os.Remove(s.path(r))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s snapshot: %w", r, err)
	}
	return nil
}
