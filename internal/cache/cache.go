// internal/cache/cache.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// Cache is an in-memory location cache keyed by user ID. With a non-empty
// snapshot path every mutation is persisted atomically, and New reloads
// the snapshot on startup.
type Cache struct {
	path string
	mu   sync.Mutex
	data map[types.UserID]*types.LocationUpdate
}

// New builds a Cache. An empty path keeps the cache memory-only.
func New(path string) (*Cache, error) {
	c := &Cache{
		path: path,
		data: make(map[types.UserID]*types.LocationUpdate),
	}
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read cache snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, &c.data); err != nil {
		return nil, fmt.Errorf("parse cache snapshot: %w", err)
	}
	return c, nil
}

// Get returns the cached update for id.
func (c *Cache) Get(id types.UserID) (*types.LocationUpdate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.data[id]
	return u, ok
}

// Set stores the update for id and persists the snapshot.
func (c *Cache) Set(id types.UserID, update *types.LocationUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[id] = update
	c.saveLocked()
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// InvalidateWithRefresh drops the entry for id and, when refresh is
// non-nil, re-populates it from the authoritative source.
func (c *Cache) InvalidateWithRefresh(ctx context.Context, id types.UserID, refresh types.RefreshFunc) error {
	c.mu.Lock()
	delete(c.data, id)
	c.saveLocked()
	c.mu.Unlock()

	if refresh == nil {
		return nil
	}
	update, err := refresh(ctx, id)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", id, err)
	}
	if update != nil {
		c.Set(id, update)
	}
	return nil
}

// BatchInvalidateWithRefresh applies InvalidateWithRefresh to every id.
// Individual failures do not stop the remaining ids; all are joined into
// the returned error.
func (c *Cache) BatchInvalidateWithRefresh(ctx context.Context, ids []types.UserID, refresh types.RefreshFunc) error {
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.InvalidateWithRefresh(ctx, id, refresh); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Keys returns the cached user ids in no particular order.
func (c *Cache) Keys() []types.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]types.UserID, 0, len(c.data))
	for id := range c.data {
		ids = append(ids, id)
	}
	return ids
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[types.UserID]*types.LocationUpdate)
	c.saveLocked()
}

// saveLocked persists the snapshot with a temp-file + rename. Caller must
// hold c.mu. Memory-only caches skip persistence; the cache stays
// authoritative in memory, so snapshot failures are logged, not fatal.
func (c *Cache) saveLocked() {
	if c.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		slog.Warn("cache snapshot dir", "error", err)
		return
	}
	data, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		slog.Warn("cache snapshot marshal", "error", err)
		return
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		slog.Warn("cache snapshot write", "error", err)
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		slog.Warn("cache snapshot rename", "error", err)
	}
}
