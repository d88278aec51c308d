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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/factstream/services/facts/fact"
	"github.com/AleutianAI/factstream/services/facts/span"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func TestCache_HitMissAccounting(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	q := ByPredicate(fact.IsString)

	_, ok := c.Get(ctx, q)
	assert.False(t, ok, "unseen query misses")

	c.Put(ctx, q, []fact.ID{1, 5})
	ids, ok := c.Get(ctx, q)
	require.True(t, ok)
	assert.Equal(t, []fact.ID{1, 5}, ids)

	_, _ = c.Get(ctx, q)
	_, _ = c.Get(ctx, ByPredicate(fact.IsKey))

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(2), stats.MissesAbsent)
	assert.Equal(t, int64(4), stats.Hits+stats.Misses, "every get is counted once")
	assert.InDelta(t, 50.0, stats.HitRate(), 0.001)
}

func TestCache_ResultsAreCopies(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	q := ContainingPosition(3)

	ids := []fact.ID{1, 2}
	c.Put(ctx, q, ids)
	ids[0] = 99

	got, ok := c.Get(ctx, q)
	require.True(t, ok)
	assert.Equal(t, []fact.ID{1, 2}, got)

	got[1] = 42
	again, _ := c.Get(ctx, q)
	assert.Equal(t, []fact.ID{1, 2}, again)
}

func TestCache_GenerationInvalidation(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	q := ByCategory(fact.CategoryLexical)

	c.Put(ctx, q, []fact.ID{1})
	g := c.NextGeneration(ctx)
	assert.Equal(t, fact.Generation(1), g)
	assert.Equal(t, 0, c.Len(), "stale entries are purged on bump")

	_, ok := c.Get(ctx, q)
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Purges)
	assert.Equal(t, fact.Generation(1), stats.Generation)
}

func TestCache_SpanInvalidation(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	q := Overlapping(span.New(10, 20))
	c.Put(ctx, q, []fact.ID{7})

	removed := c.InvalidateSpan(ctx, span.New(30, 40))
	assert.Equal(t, 0, removed)
	_, ok := c.Get(ctx, q)
	assert.True(t, ok, "disjoint change keeps the entry")

	removed = c.InvalidateSpan(ctx, span.New(15, 25))
	assert.Equal(t, 1, removed)
	_, ok = c.Get(ctx, q)
	assert.False(t, ok, "overlapping change drops the entry")

	assert.Equal(t, int64(1), c.Stats().Invalidations)
}

func TestCache_SpanInvalidationIsOverlapNotContainment(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	wide := Overlapping(span.New(0, 100))
	narrow := ContainingPosition(50)
	other := ByPredicate(fact.IsKey)
	c.Put(ctx, wide, nil)
	c.Put(ctx, narrow, nil)
	c.Put(ctx, other, nil)

	// Touching the end of [0,100) is not an overlap.
	assert.Equal(t, 0, c.InvalidateSpan(ctx, span.New(100, 110)))

	// [40,60) overlaps both spatial entries without containing [0,100).
	assert.Equal(t, 2, c.InvalidateSpan(ctx, span.New(40, 60)))
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get(ctx, other)
	assert.True(t, ok, "span-free queries survive span invalidation")
}

func TestCache_LRUEviction(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewCache(WithMaxEntries(2), WithClock(clock.Now))

	a := ByPredicate(fact.IsString)
	b := ByPredicate(fact.IsNumber)
	d := ByPredicate(fact.IsKey)

	c.Put(ctx, a, []fact.ID{1})
	clock.Advance(time.Second)
	c.Put(ctx, b, []fact.ID{2})
	clock.Advance(time.Second)

	// Touch a so b becomes the least recently accessed.
	_, ok := c.Get(ctx, a)
	require.True(t, ok)
	clock.Advance(time.Second)

	c.Put(ctx, d, []fact.ID{3})
	assert.Equal(t, 2, c.Len())

	_, ok = c.Get(ctx, b)
	assert.False(t, ok, "b was evicted")
	_, ok = c.Get(ctx, a)
	assert.True(t, ok)
	_, ok = c.Get(ctx, d)
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_PutReplacesSameQuery(t *testing.T) {
	ctx := context.Background()
	c := NewCache(WithMaxEntries(2))
	q := Overlapping(span.New(0, 4))

	c.Put(ctx, q, []fact.ID{1})
	c.Put(ctx, q, []fact.ID{2, 3})
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(0), c.Stats().Evictions)

	ids, ok := c.Get(ctx, q)
	require.True(t, ok)
	assert.Equal(t, []fact.ID{2, 3}, ids)

	// The replaced entry left no dangling spatial registration.
	assert.Equal(t, 1, c.InvalidateSpan(ctx, span.New(1, 2)))
}

func TestCache_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewCache(WithMaxAge(time.Minute), WithClock(clock.Now))
	q := ContainingPosition(1)

	c.Put(ctx, q, []fact.ID{1})
	clock.Advance(59 * time.Second)
	_, ok := c.Get(ctx, q)
	assert.True(t, ok)

	// Access does not extend the lifetime.
	clock.Advance(2 * time.Second)
	_, ok = c.Get(ctx, q)
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.MissesExpired)
	assert.Equal(t, 0, stats.EntryCount)
}

func TestCache_NoExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewCache(WithMaxAge(0), WithClock(clock.Now))
	q := ContainingPosition(1)

	c.Put(ctx, q, nil)
	clock.Advance(1000 * time.Hour)
	_, ok := c.Get(ctx, q)
	assert.True(t, ok)
}

func TestCache_Clear(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	c.Put(ctx, Overlapping(span.New(0, 1)), nil)
	c.NextGeneration(ctx)
	c.Put(ctx, Overlapping(span.New(0, 1)), nil)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, fact.Generation(1), c.Generation())
	assert.Equal(t, 0, c.InvalidateSpan(ctx, span.New(0, 1)))
}

func TestCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewCache(WithMaxEntries(16))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				q := ContainingPosition(uint32((w*200 + i) % 40))
				if _, ok := c.Get(ctx, q); !ok {
					c.Put(ctx, q, []fact.ID{fact.ID(i)})
				}
				if i%50 == 0 {
					c.InvalidateSpan(ctx, span.New(0, 10))
				}
			}
		}(w)
	}
	wg.Wait()

	stats := c.Stats()
	assert.Equal(t, int64(8*200), stats.Hits+stats.Misses)
	assert.LessOrEqual(t, stats.EntryCount, 16)
}
