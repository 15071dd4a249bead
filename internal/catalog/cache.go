package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"zoho-order-sync/internal/telemetry"
	"zoho-order-sync/internal/zoho"
)

var (
	// ErrRebuildInProgress is returned when a rebuild of the same resource
	// is already running in this process or, with a Locker, elsewhere.
	ErrRebuildInProgress = errors.New("catalog: rebuild already in progress")
	// ErrEmptyCatalog is returned when the remote listing came back empty.
	// The stale snapshot is deleted rather than replaced with an empty one.
	ErrEmptyCatalog = errors.New("catalog: remote listing is empty")
)

// Remote is the part of the accounting API the cache rebuilds from.
type Remote interface {
	ListItems(ctx context.Context, page int) (zoho.ItemPage, error)
	ListTaxes(ctx context.Context) ([]zoho.Tax, error)
}

type Options struct {
	// TTL of zero disables caching.
	TTL time.Duration
	// Locker is optional. When set, rebuilds also take a lock named
	// LockKey+resource for LockTTL.
	Locker  Locker
	LockKey string
	LockTTL time.Duration
	// MaxPages bounds the item listing. Zero means no bound.
	MaxPages int
	Now      func() time.Time
}

// Cache is a TTL-bound snapshot of the remote item and tax catalogs.
type Cache struct {
	store  SnapshotStore
	remote Remote
	opts   Options
	log    *zap.Logger

	rebuildingItems atomic.Bool
	rebuildingTaxes atomic.Bool

	// Memoized snapshots. nil means not loaded; absent snapshots are never
	// memoized so a rebuild by another process is picked up.
	mu    sync.RWMutex
	items *snapshot[zoho.Item]
	taxes *snapshot[zoho.Tax]
}

type snapshot[T any] struct {
	records []T
	written time.Time
}

func New(store SnapshotStore, remote Remote, opts Options, log *zap.Logger) *Cache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	return &Cache{
		store:  store,
		remote: remote,
		opts:   opts,
		log:    log.Named("catalog"),
	}
}

// Enabled reports whether snapshots are used at all.
func (c *Cache) Enabled() bool {
	return c.opts.TTL > 0
}

// IsValid reports whether both snapshots exist and are within the TTL.
// Expired snapshots found along the way are deleted.
func (c *Cache) IsValid(ctx context.Context) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	valid := true
	for _, r := range []Resource{ResourceItems, ResourceTaxes} {
		ok, err := c.snapshotValid(ctx, r)
		if err != nil {
			return false, err
		}
		valid = valid && ok
	}
	return valid, nil
}

func (c *Cache) snapshotValid(ctx context.Context, r Resource) (bool, error) {
	_, ok, err := c.validSince(ctx, r)
	return ok, err
}

// validSince returns the write time of a snapshot within the TTL. Expired
// snapshots are deleted.
func (c *Cache) validSince(ctx context.Context, r Resource) (time.Time, bool, error) {
	modTime, err := c.store.ModTime(ctx, r)
	if errors.Is(err, ErrSnapshotMissing) {
		c.forget(r)
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	if c.fresh(modTime) {
		return modTime, true, nil
	}
	c.log.Debug("snapshot expired, removing", zap.String("resource", string(r)), zap.Time("written", modTime))
	if err := c.store.Delete(ctx, r); err != nil {
		return time.Time{}, false, err
	}
	c.forget(r)
	return time.Time{}, false, nil
}

func (c *Cache) fresh(written time.Time) bool {
	return !written.IsZero() && !c.opts.Now().After(written.Add(c.opts.TTL))
}

// EnsureValid reports whether the cache is valid, rebuilding both resources
// first when rebuild is set and it is not.
func (c *Cache) EnsureValid(ctx context.Context, rebuild bool) (bool, error) {
	valid, err := c.IsValid(ctx)
	if err != nil || valid {
		return valid, err
	}
	if !rebuild || !c.Enabled() {
		return false, nil
	}
	if err := c.Rebuild(ctx); err != nil {
		return false, err
	}
	return c.IsValid(ctx)
}

// Rebuild refreshes both snapshots.
func (c *Cache) Rebuild(ctx context.Context) error {
	_, itemsErr := c.RebuildItems(ctx)
	_, taxesErr := c.RebuildTaxes(ctx)
	return errors.Join(itemsErr, taxesErr)
}

// RebuildItems fetches every page of the item listing and replaces the
// items snapshot. It returns the number of items written.
func (c *Cache) RebuildItems(ctx context.Context) (int, error) {
	if !c.rebuildingItems.CompareAndSwap(false, true) {
		telemetry.CatalogRebuilds.WithLabelValues(string(ResourceItems), "in_progress").Inc()
		return 0, ErrRebuildInProgress
	}
	defer c.rebuildingItems.Store(false)

	release, err := c.lock(ctx, ResourceItems)
	if err != nil {
		return 0, err
	}
	defer release()

	var items []zoho.Item
	for page := 1; ; page++ {
		if c.opts.MaxPages > 0 && page > c.opts.MaxPages {
			telemetry.CatalogRebuilds.WithLabelValues(string(ResourceItems), "error").Inc()
			return 0, fmt.Errorf("rebuild items: more than %d pages", c.opts.MaxPages)
		}
		p, err := c.remote.ListItems(ctx, page)
		if err != nil {
			telemetry.CatalogRebuilds.WithLabelValues(string(ResourceItems), "error").Inc()
			return 0, fmt.Errorf("rebuild items: page %d: %w", page, err)
		}
		items = append(items, p.Items...)
		if !p.HasNextPage {
			break
		}
	}

	if err := c.persist(ctx, ResourceItems, len(items), items); err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.items = &snapshot[zoho.Item]{records: items, written: c.opts.Now()}
	c.mu.Unlock()
	c.log.Info("items snapshot rebuilt", zap.Int("items", len(items)))
	return len(items), nil
}

// RebuildTaxes replaces the taxes snapshot and returns the number of taxes written.
func (c *Cache) RebuildTaxes(ctx context.Context) (int, error) {
	if !c.rebuildingTaxes.CompareAndSwap(false, true) {
		telemetry.CatalogRebuilds.WithLabelValues(string(ResourceTaxes), "in_progress").Inc()
		return 0, ErrRebuildInProgress
	}
	defer c.rebuildingTaxes.Store(false)

	release, err := c.lock(ctx, ResourceTaxes)
	if err != nil {
		return 0, err
	}
	defer release()

	taxes, err := c.remote.ListTaxes(ctx)
	if err != nil {
		telemetry.CatalogRebuilds.WithLabelValues(string(ResourceTaxes), "error").Inc()
		return 0, fmt.Errorf("rebuild taxes: %w", err)
	}

	if err := c.persist(ctx, ResourceTaxes, len(taxes), taxes); err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.taxes = &snapshot[zoho.Tax]{records: taxes, written: c.opts.Now()}
	c.mu.Unlock()
	c.log.Info("taxes snapshot rebuilt", zap.Int("taxes", len(taxes)))
	return len(taxes), nil
}

func (c *Cache) persist(ctx context.Context, r Resource, n int, records any) error {
	if n == 0 {
		telemetry.CatalogRebuilds.WithLabelValues(string(r), "empty").Inc()
		if err := c.store.Delete(ctx, r); err != nil {
			return err
		}
		c.forget(r)
		return fmt.Errorf("rebuild %s: %w", r, ErrEmptyCatalog)
	}
	data, err := json.Marshal(records)
	if err != nil {
		telemetry.CatalogRebuilds.WithLabelValues(string(r), "error").Inc()
		return fmt.Errorf("encode %s snapshot: %w", r, err)
	}
	if err := c.store.Write(ctx, r, data); err != nil {
		telemetry.CatalogRebuilds.WithLabelValues(string(r), "error").Inc()
		return err
	}
	telemetry.CatalogRebuilds.WithLabelValues(string(r), "ok").Inc()
	return nil
}

func (c *Cache) lock(ctx context.Context, r Resource) (func(), error) {
	if c.opts.Locker == nil {
		return func() {}, nil
	}
	release, ok, err := c.opts.Locker.TryLock(ctx, c.opts.LockKey+string(r), c.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("rebuild %s: %w", r, err)
	}
	if !ok {
		telemetry.CatalogRebuilds.WithLabelValues(string(r), "in_progress").Inc()
		return nil, ErrRebuildInProgress
	}
	return release, nil
}

func (c *Cache) forget(r Resource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch r {
	case ResourceItems:
		c.items = nil
	case ResourceTaxes:
		c.taxes = nil
	}
}

// LookupItem scans the items snapshot for sku. A missing snapshot is a miss.
func (c *Cache) LookupItem(ctx context.Context, sku string) (zoho.Item, bool, error) {
	items, err := c.loadItems(ctx)
	if err != nil {
		return zoho.Item{}, false, err
	}
	for _, item := range items {
		if item.SKU == sku {
			telemetry.CatalogLookups.WithLabelValues(string(ResourceItems), "hit").Inc()
			return item, true, nil
		}
	}
	telemetry.CatalogLookups.WithLabelValues(string(ResourceItems), "miss").Inc()
	return zoho.Item{}, false, nil
}

// LookupTax finds a tax by name, or by percentage when percentage is non-zero.
func (c *Cache) LookupTax(ctx context.Context, percentage decimal.Decimal, name string) (zoho.Tax, bool, error) {
	taxes, err := c.loadTaxes(ctx)
	if err != nil {
		return zoho.Tax{}, false, err
	}
	for _, tax := range taxes {
		if (name != "" && tax.TaxName == name) || (!percentage.IsZero() && tax.TaxPercentage.Equal(percentage)) {
			telemetry.CatalogLookups.WithLabelValues(string(ResourceTaxes), "hit").Inc()
			return tax, true, nil
		}
	}
	telemetry.CatalogLookups.WithLabelValues(string(ResourceTaxes), "miss").Inc()
	return zoho.Tax{}, false, nil
}

func (c *Cache) loadItems(ctx context.Context) ([]zoho.Item, error) {
	return loadSnapshot(ctx, c, ResourceItems, &c.items)
}

func (c *Cache) loadTaxes(ctx context.Context) ([]zoho.Tax, error) {
	return loadSnapshot(ctx, c, ResourceTaxes, &c.taxes)
}

// loadSnapshot returns the memoized records while they are within the TTL and
// otherwise re-reads the store. With caching disabled the store is read as is
// and nothing is memoized.
func loadSnapshot[T any](ctx context.Context, c *Cache, r Resource, memo **snapshot[T]) ([]T, error) {
	if !c.Enabled() {
		var records []T
		err := c.readSnapshot(ctx, r, &records)
		return records, err
	}

	c.mu.RLock()
	s := *memo
	c.mu.RUnlock()
	if s != nil && c.fresh(s.written) {
		return s.records, nil
	}

	written, ok, err := c.validSince(ctx, r)
	if err != nil || !ok {
		return nil, err
	}
	var records []T
	if err := c.readSnapshot(ctx, r, &records); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	c.mu.Lock()
	*memo = &snapshot[T]{records: records, written: written}
	c.mu.Unlock()
	return records, nil
}

// readSnapshot leaves out untouched when there is no snapshot.
func (c *Cache) readSnapshot(ctx context.Context, r Resource, out any) error {
	data, err := c.store.Read(ctx, r)
	if errors.Is(err, ErrSnapshotMissing) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s snapshot: %w", r, err)
	}
	return nil
}

// Status summarises the cache for the inspection API.
type Status struct {
	Enabled bool      `json:"enabled"`
	Valid   bool      `json:"valid"`
	TTL     string    `json:"ttl"`
	Items   time.Time `json:"items_written,omitempty"`
	Taxes   time.Time `json:"taxes_written,omitempty"`
}

// Status reports validity and snapshot times. It does not delete anything.
func (c *Cache) Status(ctx context.Context) (Status, error) {
	st := Status{Enabled: c.Enabled(), TTL: c.opts.TTL.String()}
	var err error
	if st.Items, err = c.modTime(ctx, ResourceItems); err != nil {
		return Status{}, err
	}
	if st.Taxes, err = c.modTime(ctx, ResourceTaxes); err != nil {
		return Status{}, err
	}
	st.Valid = st.Enabled && c.fresh(st.Items) && c.fresh(st.Taxes)
	return st, nil
}

func (c *Cache) modTime(ctx context.Context, r Resource) (time.Time, error) {
	t, err := c.store.ModTime(ctx, r)
	if errors.Is(err, ErrSnapshotMissing) {
		return time.Time{}, nil
	}
	return t, err
}
