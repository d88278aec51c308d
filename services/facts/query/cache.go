// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"container/list"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/factstream/services/facts/fact"
	"github.com/AleutianAI/factstream/services/facts/span"
)

// Default configuration values.
const (
	// DefaultMaxEntries is the default maximum number of cached results.
	DefaultMaxEntries = 1024

	// DefaultMaxAge is the default TTL for cached results.
	DefaultMaxAge = 5 * time.Minute
)

// entry is one cached query result.
type entry struct {
	hash        uint64
	query       Query
	ids         []fact.ID
	generation  fact.Generation
	createdAt   time.Time
	lastAccess  time.Time
	accessCount uint64
	spans       []span.Span

	// lruElement is the position in the LRU list.
	lruElement *list.Element
}

// CacheStats contains statistics about the cache.
type CacheStats struct {
	// EntryCount is the number of cached results.
	EntryCount int

	// Hits is the number of Get calls that returned a result.
	Hits int64

	// Misses is the number of Get calls that returned nothing. It is the
	// sum of the three miss counters below.
	Misses int64

	// MissesAbsent counts misses for queries with no entry.
	MissesAbsent int64

	// MissesGeneration counts misses for entries from an older generation.
	MissesGeneration int64

	// MissesExpired counts misses for entries older than MaxAge.
	MissesExpired int64

	// Evictions is the number of entries evicted by LRU.
	Evictions int64

	// Invalidations is the number of entries removed by InvalidateSpan.
	Invalidations int64

	// Purges is the number of entries removed by NextGeneration.
	Purges int64

	// Generation is the current cache generation.
	Generation fact.Generation

	// MaxEntries is the configured maximum entries.
	MaxEntries int

	// MaxAge is the configured TTL.
	MaxAge time.Duration
}

// HitRate returns the cache hit rate as a percentage.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// CacheOptions configures Cache behavior.
type CacheOptions struct {
	// MaxEntries is the maximum number of cached results.
	MaxEntries int

	// MaxAge is the TTL for cached results, measured from Put. Zero
	// disables expiry.
	MaxAge time.Duration

	// Now supplies the current time.
	Now func() time.Time
}

// DefaultCacheOptions returns sensible defaults.
func DefaultCacheOptions() CacheOptions {
	return CacheOptions{
		MaxEntries: DefaultMaxEntries,
		MaxAge:     DefaultMaxAge,
		Now:        time.Now,
	}
}

// CacheOption is a functional option for configuring Cache.
type CacheOption func(*CacheOptions)

// WithMaxEntries sets the maximum number of cached results.
func WithMaxEntries(n int) CacheOption {
	return func(o *CacheOptions) {
		if n > 0 {
			o.MaxEntries = n
		}
	}
}

// WithMaxAge sets the TTL for cached results. Zero disables expiry.
func WithMaxAge(d time.Duration) CacheOption {
	return func(o *CacheOptions) {
		if d >= 0 {
			o.MaxAge = d
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) CacheOption {
	return func(o *CacheOptions) {
		if now != nil {
			o.Now = now
		}
	}
}

// Cache caches query results keyed by Query.Hash.
//
// Description:
//
//	An entry is valid while its generation is at least the cache
//	generation and its age is under MaxAge. Put registers the entry under
//	every invalidation span of its query; InvalidateSpan drops every entry
//	with a span overlapping the changed range. Eviction, expiry and
//	invalidation all run synchronously inside the calls below; there is no
//	background goroutine.
//
//	Entries hold fact IDs by value, so a cached result stays safe to
//	return after the store compacts. Callers look the IDs up again and
//	skip any that are gone.
//
// Thread Safety:
//
//	Safe for concurrent use. One mutex guards the whole cache.
type Cache struct {
	mu      sync.Mutex
	options CacheOptions

	entries map[uint64]*entry
	lru     *list.List // front is most recently accessed

	// spatial maps an invalidation span to the hashes registered under it.
	spatial map[span.Span]map[uint64]struct{}

	generation fact.Generation

	hits             int64
	missesAbsent     int64
	missesGeneration int64
	missesExpired    int64
	evictions        int64
	invalidations    int64
	purges           int64
}

// NewCache creates a query cache.
func NewCache(opts ...CacheOption) *Cache {
	options := DefaultCacheOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Cache{
		options: options,
		entries: make(map[uint64]*entry),
		lru:     list.New(),
		spatial: make(map[span.Span]map[uint64]struct{}),
	}
}

// Get returns a copy of the cached result for q.
//
// Description:
//
//	Misses when q has no entry, when the entry predates the current
//	generation, or when it is older than MaxAge. Stale and expired entries
//	are removed on the spot. A hit refreshes the entry's last access time
//	and moves it to the front of the LRU order.
//
// Outputs:
//
//	[]fact.ID - The cached IDs, copied. Nil on a miss.
//	bool - True on a hit.
func (c *Cache) Get(ctx context.Context, q Query) ([]fact.ID, bool) {
	start := time.Now()
	ids, hit, reason := c.get(q)
	if hit {
		recordCacheHit(ctx)
	} else {
		recordCacheMiss(ctx, reason)
	}
	recordCacheGetLatency(ctx, time.Since(start), hit)
	return ids, hit
}

func (c *Cache) get(q Query) ([]fact.ID, bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := q.Hash()
	e, ok := c.entries[h]
	if !ok {
		c.missesAbsent++
		return nil, false, missAbsent
	}
	if e.generation < c.generation {
		c.missesGeneration++
		c.removeEntryLocked(e)
		return nil, false, missGeneration
	}
	now := c.options.Now()
	if c.isExpired(e, now) {
		c.missesExpired++
		c.removeEntryLocked(e)
		return nil, false, missExpired
	}

	e.lastAccess = now
	e.accessCount++
	c.lru.MoveToFront(e.lruElement)
	c.hits++
	return slices.Clone(e.ids), true, ""
}

// Put caches ids as the result of q at the current generation.
//
// Description:
//
//	Replaces any entry with the same hash. When the cache is full the
//	least recently accessed entry is evicted first. ids is copied.
func (c *Cache) Put(ctx context.Context, q Query, ids []fact.ID) {
	evicted := c.put(q, ids)
	for range evicted {
		recordCacheEviction(ctx)
	}
}

func (c *Cache) put(q Query, ids []fact.ID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := q.Hash()
	if old, ok := c.entries[h]; ok {
		c.removeEntryLocked(old)
	}

	evicted := 0
	for len(c.entries) >= c.options.MaxEntries && c.evictLRULocked() {
		evicted++
	}

	now := c.options.Now()
	e := &entry{
		hash:       h,
		query:      q,
		ids:        slices.Clone(ids),
		generation: c.generation,
		createdAt:  now,
		lastAccess: now,
		spans:      q.InvalidationSpans(),
	}
	e.lruElement = c.lru.PushFront(e)
	c.entries[h] = e

	for _, s := range e.spans {
		set, ok := c.spatial[s]
		if !ok {
			set = make(map[uint64]struct{})
			c.spatial[s] = set
		}
		set[h] = struct{}{}
	}
	return evicted
}

// InvalidateSpan removes every entry with an invalidation span that
// overlaps changed and returns how many were removed.
func (c *Cache) InvalidateSpan(ctx context.Context, changed span.Span) int {
	c.mu.Lock()
	var hit []uint64
	for s, set := range c.spatial {
		if !s.Overlaps(changed) {
			continue
		}
		for h := range set {
			hit = append(hit, h)
		}
	}
	removed := 0
	for _, h := range hit {
		if e, ok := c.entries[h]; ok {
			c.removeEntryLocked(e)
			removed++
		}
	}
	c.invalidations += int64(removed)
	c.mu.Unlock()

	recordCacheInvalidations(ctx, removed, "span")
	return removed
}

// NextGeneration bumps the cache generation and removes every entry
// computed before it. Returns the new generation.
func (c *Cache) NextGeneration(ctx context.Context) fact.Generation {
	c.mu.Lock()
	c.generation++
	removed := 0
	for _, e := range c.entries {
		if e.generation < c.generation {
			c.removeEntryLocked(e)
			removed++
		}
	}
	c.purges += int64(removed)
	g := c.generation
	c.mu.Unlock()

	recordCacheInvalidations(ctx, removed, "generation")
	return g
}

// Generation returns the current cache generation.
func (c *Cache) Generation() fact.Generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	misses := c.missesAbsent + c.missesGeneration + c.missesExpired
	return CacheStats{
		EntryCount:       len(c.entries),
		Hits:             c.hits,
		Misses:           misses,
		MissesAbsent:     c.missesAbsent,
		MissesGeneration: c.missesGeneration,
		MissesExpired:    c.missesExpired,
		Evictions:        c.evictions,
		Invalidations:    c.invalidations,
		Purges:           c.purges,
		Generation:       c.generation,
		MaxEntries:       c.options.MaxEntries,
		MaxAge:           c.options.MaxAge,
	}
}

// Clear removes all entries. Counters and the generation are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	clear(c.spatial)
	c.lru.Init()
}

func (c *Cache) isExpired(e *entry, now time.Time) bool {
	if c.options.MaxAge <= 0 {
		return false
	}
	return now.Sub(e.createdAt) > c.options.MaxAge
}

// evictLRULocked evicts the least recently accessed entry.
//
// Caller must hold c.mu.
func (c *Cache) evictLRULocked() bool {
	back := c.lru.Back()
	if back == nil {
		return false
	}
	c.removeEntryLocked(back.Value.(*entry))
	c.evictions++
	return true
}

// removeEntryLocked unlinks e from every index.
//
// Caller must hold c.mu.
func (c *Cache) removeEntryLocked(e *entry) {
	delete(c.entries, e.hash)
	if e.lruElement != nil {
		c.lru.Remove(e.lruElement)
		e.lruElement = nil
	}
	for _, s := range e.spans {
		set := c.spatial[s]
		delete(set, e.hash)
		if len(set) == 0 {
			delete(c.spatial, s)
		}
	}
}
