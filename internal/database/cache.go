package database

// Daily snapshots are immutable once inserted (only anomaly cleanup deletes them), so
// found rows can be cached without expiry. Misses are never cached: the row may be
// written later by the rollup.

import (
	"context"

	lru "github.com/hashicorp/golang-lru"

	"github.com/tejusbharadwaj/pulsegate/internal/models"
)

// CachedStore wraps a Store with an in-memory LRU cache of daily snapshot lookups.
type CachedStore struct {
	Store
	snapshots *lru.Cache
}

// NewCachedStore caches up to size snapshots in front of store.
func NewCachedStore(store Store, size int) (*CachedStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{Store: store, snapshots: cache}, nil
}

type snapshotKey struct {
	meterID string
	date    string
}

func (c *CachedStore) GetDailySnapshot(ctx context.Context, meterID, date string) (*models.DailySnapshot, error) {
	key := snapshotKey{meterID, date}
	if cached, ok := c.snapshots.Get(key); ok {
		snap := cached.(models.DailySnapshot)
		return &snap, nil
	}

	snap, err := c.Store.GetDailySnapshot(ctx, meterID, date)
	if err != nil || snap == nil {
		return snap, err
	}
	c.snapshots.Add(key, *snap)
	return snap, nil
}

func (c *CachedStore) InsertDailySnapshot(ctx context.Context, snap models.DailySnapshot) (bool, error) {
	inserted, err := c.Store.InsertDailySnapshot(ctx, snap)
	if err != nil {
		return false, err
	}
	if inserted {
		c.snapshots.Add(snapshotKey{snap.MeterID, snap.Date}, snap)
	}
	return inserted, nil
}

func (c *CachedStore) DeleteDailySnapshot(ctx context.Context, meterID, date string) error {
	c.snapshots.Remove(snapshotKey{meterID, date})
	return c.Store.DeleteDailySnapshot(ctx, meterID, date)
}

var _ Store = (*CachedStore)(nil)
