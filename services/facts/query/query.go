// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query describes fact lookups and caches their results.
package query

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"

	"github.com/AleutianAI/factstream/services/facts/fact"
	"github.com/AleutianAI/factstream/services/facts/span"
	"github.com/cespare/xxhash/v2"
)

// Kind identifies the variant of a Query.
type Kind uint8

const (
	KindOverlapping Kind = iota + 1
	KindCategory
	KindGeneration
	KindPredicate
	KindPosition
	KindAnd
	KindOr
)

func (k Kind) String() string {
	switch k {
	case KindOverlapping:
		return "overlapping"
	case KindCategory:
		return "category"
	case KindGeneration:
		return "generation"
	case KindPredicate:
		return "predicate"
	case KindPosition:
		return "position"
	case KindAnd:
		return "and"
	case KindOr:
		return "or"
	default:
		return "unknown"
	}
}

// Query is a closed description of a fact lookup.
//
// Build queries with Overlapping, ByCategory, ByGeneration, ByPredicate,
// ContainingPosition, And and Or. The zero Query matches nothing.
type Query struct {
	kind       Kind
	span       span.Span
	category   fact.Category
	generation fact.Generation
	predicate  fact.Predicate
	pos        uint32
	children   []Query
}

// Overlapping matches facts whose subject overlaps s.
func Overlapping(s span.Span) Query {
	return Query{kind: KindOverlapping, span: s}
}

// ByCategory matches facts whose predicate belongs to c.
func ByCategory(c fact.Category) Query {
	return Query{kind: KindCategory, category: c}
}

// ByGeneration matches facts appended in generation g.
func ByGeneration(g fact.Generation) Query {
	return Query{kind: KindGeneration, generation: g}
}

// ByPredicate matches facts with predicate p.
func ByPredicate(p fact.Predicate) Query {
	return Query{kind: KindPredicate, predicate: p}
}

// ContainingPosition matches facts whose subject contains pos.
func ContainingPosition(pos uint32) Query {
	return Query{kind: KindPosition, pos: pos}
}

// And matches facts matched by every child. And() matches everything.
func And(children ...Query) Query {
	return Query{kind: KindAnd, children: slices.Clone(children)}
}

// Or matches facts matched by any child. Or() matches nothing.
func Or(children ...Query) Query {
	return Query{kind: KindOr, children: slices.Clone(children)}
}

// Kind returns the query variant.
func (q Query) Kind() Kind {
	return q.kind
}

// Children returns the children of a composite query.
func (q Query) Children() []Query {
	return q.children
}

// Hash returns a deterministic 64-bit key for q.
//
// Equal queries hash equally across processes. Child order is significant.
func (q Query) Hash() uint64 {
	d := xxhash.New()
	q.writeHash(d)
	return d.Sum64()
}

func (q Query) writeHash(d *xxhash.Digest) {
	var buf [9]byte
	buf[0] = byte(q.kind)
	switch q.kind {
	case KindOverlapping:
		binary.LittleEndian.PutUint64(buf[1:], uint64(q.span.Pack()))
	case KindCategory:
		binary.LittleEndian.PutUint64(buf[1:], uint64(q.category))
	case KindGeneration:
		binary.LittleEndian.PutUint64(buf[1:], uint64(q.generation))
	case KindPredicate:
		binary.LittleEndian.PutUint64(buf[1:], uint64(q.predicate))
	case KindPosition:
		binary.LittleEndian.PutUint64(buf[1:], uint64(q.pos))
	case KindAnd, KindOr:
		binary.LittleEndian.PutUint64(buf[1:], uint64(len(q.children)))
	}
	_, _ = d.Write(buf[:])
	for _, c := range q.children {
		c.writeHash(d)
	}
}

// InvalidationSpans returns the spans whose modification must invalidate a
// cached result of q.
//
// Description:
//
//	An overlapping query registers its span and a position query the
//	single byte at its position. Composites register the union of their
//	children. Category, generation and predicate queries register no span;
//	they are invalidated by generation bumps only.
func (q Query) InvalidationSpans() []span.Span {
	switch q.kind {
	case KindOverlapping:
		return []span.Span{q.span}
	case KindPosition:
		return []span.Span{span.At(q.pos)}
	case KindAnd, KindOr:
		var out []span.Span
		for _, c := range q.children {
			for _, s := range c.InvalidationSpans() {
				if !slices.Contains(out, s) {
					out = append(out, s)
				}
			}
		}
		return out
	default:
		return nil
	}
}

// Matches reports whether f, stored in store, satisfies q.
func (q Query) Matches(store *fact.Store, f fact.Fact) bool {
	switch q.kind {
	case KindOverlapping:
		return f.Subject().Overlaps(q.span)
	case KindCategory:
		return f.Predicate().Category() == q.category
	case KindGeneration:
		g, ok := store.GenerationOf(f.ID())
		return ok && g == q.generation
	case KindPredicate:
		return f.Predicate() == q.predicate
	case KindPosition:
		return f.Subject().Contains(q.pos)
	case KindAnd:
		for _, c := range q.children {
			if !c.Matches(store, f) {
				return false
			}
		}
		return true
	case KindOr:
		for _, c := range q.children {
			if c.Matches(store, f) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Execute scans store and returns the IDs of matching facts in store
// order.
//
// A query that cannot match returns an empty result, never an error.
func Execute(store *fact.Store, q Query) []fact.ID {
	ids := []fact.ID{}
	if q.kind == KindGeneration {
		first, end, ok := store.FirstIDOf(q.generation)
		if !ok {
			return ids
		}
		for id := first; id < end; id++ {
			if _, ok := store.Get(id); ok {
				ids = append(ids, id)
			}
		}
		return ids
	}
	for _, f := range store.Facts() {
		if q.Matches(store, f) {
			ids = append(ids, f.ID())
		}
	}
	return ids
}

// String formats q for logs and CLI output.
func (q Query) String() string {
	switch q.kind {
	case KindOverlapping:
		return fmt.Sprintf("overlapping(%s)", q.span)
	case KindCategory:
		return fmt.Sprintf("category(%s)", q.category)
	case KindGeneration:
		return fmt.Sprintf("generation(%d)", q.generation)
	case KindPredicate:
		return fmt.Sprintf("predicate(%s)", q.predicate)
	case KindPosition:
		return fmt.Sprintf("position(%d)", q.pos)
	case KindAnd, KindOr:
		parts := make([]string, len(q.children))
		for i, c := range q.children {
			parts[i] = c.String()
		}
		return fmt.Sprintf("%s(%s)", q.kind, strings.Join(parts, ", "))
	default:
		return "none"
	}
}
