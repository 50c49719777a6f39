// Package lrucache provides a bounded least-recently-used cache for
// derived per-file data (content hashes, symlink targets). Keys embed
// the observed file state, so a mutated file never hits a value computed
// against its prior state. Concurrent lookups for the same key coalesce
// to a single computation.
package lrucache

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Key identifies one generation of derived data for a path. Any change
// to size, mtime, or identity token produces a distinct key, which is
// how staleness is ruled out structurally rather than detected lazily.
type Key struct {
	Path     string
	Size     int64
	Mtime    int64
	Identity uint64
}

// flightID returns the singleflight key. NUL separators keep distinct
// field values from colliding.
func (k Key) flightID() string {
	return fmt.Sprintf("%s\x00%d\x00%d\x00%d", k.Path, k.Size, k.Mtime, k.Identity)
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Shares    uint64 `json:"shares"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Stores    uint64 `json:"stores"`
	Loads     uint64 `json:"loads"`
	Erases    uint64 `json:"erases"`
	Clears    uint64 `json:"clears"`
	Size      int    `json:"size"`
}

// entry is one cached value with its key for reverse lookup on eviction.
type entry[V any] struct {
	key   Key
	value V
}

// Cache is a bounded LRU cache safe for concurrent use. The zero value
// is not usable; construct with New.
type Cache[V any] struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[Key]*list.Element
	byPath     map[string]map[Key]struct{}
	lru        *list.List // front = most recently used
	stats      Stats

	flight singleflight.Group
}

// New creates a cache bounded to maxEntries values.
func New[V any](maxEntries int) *Cache[V] {
	return &Cache[V]{
		maxEntries: maxEntries,
		entries:    make(map[Key]*list.Element),
		byPath:     make(map[string]map[Key]struct{}),
		lru:        list.New(),
	}
}

// GetOrCompute returns the cached value for key, computing it at most
// once across concurrent callers. compute runs outside the cache lock;
// all coalesced callers receive the same result or the same failure.
// Failures are not cached — the next access retries.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key Key, compute func(context.Context) (V, error)) (V, error) {
	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.stats.Hits++
		c.lru.MoveToFront(el)
		v := el.Value.(*entry[V]).value
		c.mu.Unlock()

		return v, nil
	}

	c.stats.Misses++
	c.mu.Unlock()

	executed := false

	v, err, _ := c.flight.Do(key.flightID(), func() (any, error) {
		executed = true

		val, computeErr := compute(ctx)
		if computeErr != nil {
			return nil, computeErr
		}

		c.mu.Lock()
		c.insertLocked(key, val)
		c.stats.Loads++
		c.mu.Unlock()

		return val, nil
	})

	// A caller that did not run the computation itself received a
	// result (or failure) coalesced from another caller's flight.
	if !executed {
		c.mu.Lock()
		c.stats.Shares++
		c.mu.Unlock()
	}

	if err != nil {
		var zero V
		return zero, err
	}

	return v.(V), nil
}

// Store inserts a caller-provided value (one that was obtained as a
// byproduct of other work, e.g. a symlink target read during a crawl).
func (c *Cache[V]) Store(key Key, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.insertLocked(key, value)
	c.stats.Stores++
}

// Get returns the cached value for key without computing. Counts as a
// hit or miss like GetOrCompute.
func (c *Cache[V]) Get(key Key) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.stats.Hits++
		c.lru.MoveToFront(el)

		return el.Value.(*entry[V]).value, true
	}

	c.stats.Misses++

	var zero V

	return zero, false
}

// ErasePath removes every generation cached for path, returning the
// number of entries removed. Called by the tree store's mutation path
// before the mutation is considered complete.
func (c *Cache[V]) ErasePath(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, ok := c.byPath[path]
	if !ok {
		return 0
	}

	removed := 0

	for key := range keys {
		if el, found := c.entries[key]; found {
			c.removeLocked(el)
			removed++
		}
	}

	c.stats.Erases += uint64(removed)

	return removed
}

// Clear empties the cache.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[Key]*list.Element)
	c.byPath = make(map[string]map[Key]struct{})
	c.lru.Init()
	c.stats.Clears++
}

// Stats returns a snapshot of the counters with the current size.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = c.lru.Len()

	return s
}

// Len returns the current number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lru.Len()
}

// insertLocked adds or replaces the value for key and evicts from the
// cold end until the size bound holds. Callers hold c.mu.
func (c *Cache[V]) insertLocked(key Key, value V) {
	if el, ok := c.entries[key]; ok {
		el.Value.(*entry[V]).value = value
		c.lru.MoveToFront(el)

		return
	}

	el := c.lru.PushFront(&entry[V]{key: key, value: value})
	c.entries[key] = el

	if c.byPath[key.Path] == nil {
		c.byPath[key.Path] = make(map[Key]struct{})
	}

	c.byPath[key.Path][key] = struct{}{}

	for c.maxEntries > 0 && c.lru.Len() > c.maxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}

		c.removeLocked(oldest)
		c.stats.Evictions++
	}
}

// removeLocked unlinks an element from all indexes. Callers hold c.mu.
func (c *Cache[V]) removeLocked(el *list.Element) {
	ent := el.Value.(*entry[V])
	c.lru.Remove(el)
	delete(c.entries, ent.key)

	if keys, ok := c.byPath[ent.key.Path]; ok {
		delete(keys, ent.key)

		if len(keys) == 0 {
			delete(c.byPath, ent.key.Path)
		}
	}
}
