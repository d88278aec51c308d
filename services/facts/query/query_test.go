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
	"testing"

	"github.com/AleutianAI/factstream/services/facts/fact"
	"github.com/AleutianAI/factstream/services/facts/span"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_IsDeterministicAndDiscriminating(t *testing.T) {
	queries := []Query{
		Overlapping(span.New(10, 20)),
		Overlapping(span.New(10, 21)),
		ByCategory(fact.CategoryLexical),
		ByCategory(fact.CategorySyntactic),
		ByGeneration(0),
		ByGeneration(1),
		ByPredicate(fact.IsString),
		ContainingPosition(10),
		And(ByPredicate(fact.IsString), ContainingPosition(10)),
		And(ContainingPosition(10), ByPredicate(fact.IsString)),
		Or(ByPredicate(fact.IsString), ContainingPosition(10)),
		And(),
		Or(),
	}

	seen := make(map[uint64]string)
	for _, q := range queries {
		h := q.Hash()
		assert.Equal(t, h, q.Hash())
		if prev, dup := seen[h]; dup {
			t.Fatalf("hash collision between %s and %s", prev, q)
		}
		seen[h] = q.String()
	}

	assert.Equal(t, Overlapping(span.New(1, 2)).Hash(), Overlapping(span.New(1, 2)).Hash())
}

func TestInvalidationSpans(t *testing.T) {
	assert.Equal(t, []span.Span{span.New(10, 20)}, Overlapping(span.New(10, 20)).InvalidationSpans())
	assert.Equal(t, []span.Span{span.New(7, 8)}, ContainingPosition(7).InvalidationSpans())
	assert.Empty(t, ByCategory(fact.CategoryLexical).InvalidationSpans())
	assert.Empty(t, ByGeneration(3).InvalidationSpans())
	assert.Empty(t, ByPredicate(fact.IsKey).InvalidationSpans())

	q := Or(
		Overlapping(span.New(0, 5)),
		And(ContainingPosition(7), Overlapping(span.New(0, 5))),
		ByPredicate(fact.IsKey),
	)
	assert.Equal(t, []span.Span{span.New(0, 5), span.New(7, 8)}, q.InvalidationSpans())
}

func newTestStore(t *testing.T) *fact.Store {
	t.Helper()
	store := fact.NewStore(0)
	add := func(f fact.Fact, err error) {
		require.NoError(t, err)
		_, err = store.Append(f)
		require.NoError(t, err)
	}
	// Generation 0: IDs 1 and 2. Generation 1: IDs 3 to 5.
	add(fact.Certain(fact.IsString, span.New(0, 5)))
	add(fact.WithNumber(fact.HasDepth, span.New(0, 5), 1, 1))
	store.NextGeneration()
	add(fact.Certain(fact.IsNumber, span.New(6, 8)))
	add(fact.Certain(fact.IsFunction, span.New(10, 30)))
	add(fact.Simple(fact.IsString, span.New(12, 14), 0.5))
	return store
}

func TestExecute(t *testing.T) {
	store := newTestStore(t)

	tests := []struct {
		name string
		q    Query
		want []fact.ID
	}{
		{"overlapping", Overlapping(span.New(4, 7)), []fact.ID{1, 2, 3}},
		{"category", ByCategory(fact.CategoryLexical), []fact.ID{1, 3, 5}},
		{"generation 0", ByGeneration(0), []fact.ID{1, 2}},
		{"generation 1", ByGeneration(1), []fact.ID{3, 4, 5}},
		{"generation unknown", ByGeneration(9), []fact.ID{}},
		{"predicate", ByPredicate(fact.IsString), []fact.ID{1, 5}},
		{"position", ContainingPosition(13), []fact.ID{4, 5}},
		{"position at end is outside", ContainingPosition(30), []fact.ID{}},
		{"and", And(ByPredicate(fact.IsString), ContainingPosition(13)), []fact.ID{5}},
		{"or", Or(ByPredicate(fact.IsNumber), ByPredicate(fact.IsFunction)), []fact.ID{3, 4}},
		{"empty and matches all", And(), []fact.ID{1, 2, 3, 4, 5}},
		{"empty or matches none", Or(), []fact.ID{}},
		{"zero query", Query{}, []fact.ID{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Execute(store, tt.q))
		})
	}
}

func TestExecute_GenerationAfterCompaction(t *testing.T) {
	store := newTestStore(t)
	store.Compact(0.9)

	assert.Equal(t, []fact.ID{3, 4}, Execute(store, ByGeneration(1)))
}
