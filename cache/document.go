// Package cache holds the process-wide document cache used by the log
// adapter for its entry documents.
package cache

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/stardustapp/skychat-sub000/data"
	"github.com/stardustapp/skychat-sub000/mount/backend"
)

// DefaultHotPattern matches the entry documents of date-partitioned logs.
const DefaultHotPattern = `(^|/)partitions/[^/]+/entries/[^/]+$`

// DocumentCache remembers the last snapshot read for documents whose path
// matches the hot pattern. Writes through the cache invalidate the entry.
//
// Entries are never evicted, so the cache grows with the number of distinct
// hot documents read during the process lifetime.
type DocumentCache struct {
	mu  sync.Mutex
	hot *regexp.Regexp

	docs map[string]*backend.Snapshot
	// gens is bumped by every write so that a read racing a write does not
	// repopulate the entry with the value it read before the write.
	gens map[string]uint64

	hits   uint64
	misses uint64
}

type Stats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// NewDocumentCache compiles hotPattern; an empty pattern selects
// DefaultHotPattern.
func NewDocumentCache(hotPattern string) (*DocumentCache, error) {
	if hotPattern == "" {
		hotPattern = DefaultHotPattern
	}
	hot, err := regexp.Compile(hotPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: hot pattern: %v", data.ErrInvalid, err)
	}

	return &DocumentCache{
		hot:  hot,
		docs: make(map[string]*backend.Snapshot),
		gens: make(map[string]uint64),
	}, nil
}

func (c *DocumentCache) IsHot(path string) bool {
	return c.hot.MatchString(data.Clean(path))
}

// Get reads path through the cache. Documents outside the hot pattern go
// straight to the store.
func (c *DocumentCache) Get(ctx context.Context, store backend.DocumentStore, path string) (*backend.Snapshot, error) {
	path = data.Clean(path)
	if !c.IsHot(path) {
		return store.Get(ctx, path)
	}
	key := cacheKey(store, path)

	c.mu.Lock()
	if snap, ok := c.docs[key]; ok {
		c.hits++
		c.mu.Unlock()
		return snap, nil
	}
	c.misses++
	gen := c.gens[key]
	c.mu.Unlock()

	snap, err := store.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gens[key] == gen {
		c.docs[key] = snap
	}
	c.mu.Unlock()

	return snap, nil
}

// Set writes through to the store and invalidates the cached snapshot.
func (c *DocumentCache) Set(ctx context.Context, store backend.DocumentStore, path string, fields map[string]any, mode backend.SetMode) error {
	path = data.Clean(path)
	defer c.Invalidate(store, path)

	return store.Set(ctx, path, fields, mode)
}

// Delete removes the document from the store and the cache.
func (c *DocumentCache) Delete(ctx context.Context, store backend.DocumentStore, path string) error {
	path = data.Clean(path)
	defer c.Invalidate(store, path)

	return store.Delete(ctx, path)
}

// Observe stores a snapshot delivered by a watch, if it is hot.
func (c *DocumentCache) Observe(store backend.DocumentStore, snap *backend.Snapshot) {
	if snap == nil || !c.IsHot(snap.Path) {
		return
	}
	key := cacheKey(store, snap.Path)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[key]++
	c.docs[key] = snap
}

func (c *DocumentCache) Invalidate(store backend.DocumentStore, path string) {
	key := cacheKey(store, data.Clean(path))

	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[key]++
	delete(c.docs, key)
}

func (c *DocumentCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{Entries: len(c.docs), Hits: c.hits, Misses: c.misses}
}

func cacheKey(store backend.DocumentStore, path string) string {
	return fmt.Sprintf("%p:%s", store, path)
}
