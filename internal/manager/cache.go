package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/promptweave/internal/types"
)

// artifactCache holds compiled artifacts keyed by prompt name, with LRU
// eviction at a configured entry count and access-based idle expiry.
//
// Entries hold the compiled form plus lean metadata only; the raw template
// source is stripped before insertion, keeping steady-state memory bounded
// by compiled size times live-name count rather than by source size.
//
// Eviction never means a name does not exist: the next render for an
// evicted name goes through the lazy-load slow path and recompiles it.
type artifactCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	maxEntries int
	idleExpiry time.Duration

	// LRU doubly-linked list with sentinel head and tail.
	head *cacheEntry
	tail *cacheEntry

	hits      int64
	misses    int64
	evictions int64
}

// cacheEntry is one cached compiled prompt.
type cacheEntry struct {
	name       string
	meta       *types.PromptMeta // lean: template source stripped
	artifact   any
	accessedAt time.Time

	prev *cacheEntry
	next *cacheEntry
}

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
}

func newArtifactCache(maxEntries int, idleExpiry time.Duration) *artifactCache {
	c := &artifactCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		idleExpiry: idleExpiry,
	}
	c.head = &cacheEntry{}
	c.tail = &cacheEntry{}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// get returns the entry for name, refreshing its recency. Entries idle past
// the expiry are dropped and reported as misses.
func (c *artifactCache) get(name string) (*cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[name]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	if c.idleExpiry > 0 && time.Since(entry.accessedAt) > c.idleExpiry {
		c.unlink(entry)
		delete(c.entries, name)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	c.moveToFront(entry)
	entry.accessedAt = time.Now()
	atomic.AddInt64(&c.hits, 1)
	return entry, true
}

// put inserts or replaces the entry for name, evicting from the LRU tail
// when the cache is full.
func (c *artifactCache) put(name string, meta *types.PromptMeta, artifact any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[name]; ok {
		entry.meta = meta
		entry.artifact = artifact
		entry.accessedAt = time.Now()
		c.moveToFront(entry)
		return
	}

	for c.maxEntries > 0 && len(c.entries) >= c.maxEntries && c.tail.prev != c.head {
		lru := c.tail.prev
		c.unlink(lru)
		delete(c.entries, lru.name)
		atomic.AddInt64(&c.evictions, 1)
	}

	entry := &cacheEntry{
		name:       name,
		meta:       meta,
		artifact:   artifact,
		accessedAt: time.Now(),
	}
	c.entries[name] = entry
	c.pushFront(entry)
}

// remove evicts name outright.
func (c *artifactCache) remove(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[name]
	if !ok {
		return
	}
	c.unlink(entry)
	delete(c.entries, name)
}

// names returns the currently cached prompt names.
func (c *artifactCache) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]string, 0, len(c.entries))
	for name := range c.entries {
		result = append(result, name)
	}
	return result
}

func (c *artifactCache) stats() CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	return CacheStats{
		Entries:   entries,
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
}

func (c *artifactCache) pushFront(entry *cacheEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *artifactCache) unlink(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
}

func (c *artifactCache) moveToFront(entry *cacheEntry) {
	c.unlink(entry)
	c.pushFront(entry)
}
