package store

import (
	"sort"
	"sync"

	"github.com/engram-memory/engram/pkg/types"
)

// indexCache is the explicit in-process cache of the index artifact. Every
// store mutation refreshes its own slot; Invalidate reloads the whole thing
// for out-of-process changes. Readers tolerate a slightly stale snapshot
// between two locked mutations.
type indexCache struct {
	mu      sync.RWMutex
	entries map[string]types.IndexEntry
}

func newIndexCache() *indexCache {
	return &indexCache{entries: make(map[string]types.IndexEntry)}
}

func (c *indexCache) get(id string) (types.IndexEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

func (c *indexCache) put(e types.IndexEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.ID] = e
}

func (c *indexCache) delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

func (c *indexCache) replace(entries map[string]types.IndexEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entries == nil {
		entries = make(map[string]types.IndexEntry)
	}
	c.entries = entries
}

// snapshot returns the entries in a deterministic order (creation time
// descending, then ID) for filtering and pagination.
func (c *indexCache) snapshot() []types.IndexEntry {
	c.mu.RLock()
	out := make([]types.IndexEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *indexCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// asMap copies the entries for persistence.
func (c *indexCache) asMap() map[string]types.IndexEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]types.IndexEntry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}
