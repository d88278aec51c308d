// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fact

import (
	"errors"
	"iter"
	"math"
	"sort"

	"github.com/x448/float16"
)

// Generation is a monotonically increasing epoch counter.
type Generation uint32

// ErrStoreFull is returned when the 32-bit ID space is exhausted.
var ErrStoreFull = errors.New("fact store full")

// genMark records the first ID allocated in a generation.
type genMark struct {
	gen     Generation
	firstID ID
}

// Store is the append-only, generation-stamped owner of facts.
//
// Description:
//
//	Append assigns IDs 1, 2, 3, ... in append order and never reuses one
//	until Clear. NextGeneration closes the current epoch; facts keep the
//	generation they were appended in, which is recovered from ID ranges so
//	it survives compaction. Compact and Retain physically remove facts in a
//	single stable left-compaction pass.
//
// Ownership:
//
//	The store owns fact memory. Get returns copies; GetRange and the
//	iterators expose borrowed views that must not be used after Clear,
//	Compact or Retain.
//
// Thread Safety:
//
//	Not safe for concurrent use. Wrap in one coarse lock when shared.
type Store struct {
	facts []Fact

	// index[id] is the position of fact id in facts, or -1 once removed.
	// index[0] is unused.
	index []int32

	nextID     ID
	generation Generation
	genCount   int
	marks      []genMark
}

// NewStore creates an empty store with room for capacity facts.
func NewStore(capacity int) *Store {
	if capacity < 0 {
		capacity = 0
	}
	s := &Store{
		facts: make([]Fact, 0, capacity),
		index: make([]int32, 1, capacity+1),
	}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.index[0] = -1
	s.nextID = 1
	s.genCount = 0
	s.marks = append(s.marks[:0], genMark{gen: s.generation, firstID: 1})
}

// Append stores f and returns its newly assigned ID.
//
// Any ID already present on f is ignored.
func (s *Store) Append(f Fact) (ID, error) {
	if s.nextID == math.MaxUint32 {
		return NoFact, ErrStoreFull
	}
	id := s.nextID
	s.nextID++

	f.id = id
	s.index = append(s.index, int32(len(s.facts)))
	s.facts = append(s.facts, f)
	s.genCount++
	return id, nil
}

// AppendBatch stores all facts and returns their IDs in order.
//
// The batch is all-or-nothing: if the ID space cannot hold every fact,
// nothing is stored.
func (s *Store) AppendBatch(facts []Fact) ([]ID, error) {
	if uint64(s.nextID)+uint64(len(facts)) > math.MaxUint32 {
		return nil, ErrStoreFull
	}
	ids := make([]ID, len(facts))
	for i, f := range facts {
		id, _ := s.Append(f)
		ids[i] = id
	}
	return ids, nil
}

// Get returns a copy of the fact with the given ID.
//
// Returns false for NoFact, IDs never assigned, and removed facts.
func (s *Store) Get(id ID) (Fact, bool) {
	if id == NoFact || int(id) >= len(s.index) {
		return Fact{}, false
	}
	pos := s.index[id]
	if pos < 0 {
		return Fact{}, false
	}
	return s.facts[pos], true
}

// GetRange returns the facts stored at positions [start, end).
//
// Invalid ranges (negative start, start > end, end beyond Count) yield an
// empty slice rather than an error. The slice is borrowed.
func (s *Store) GetRange(start, end int) []Fact {
	if start < 0 || end < start || end > len(s.facts) {
		return []Fact{}
	}
	return s.facts[start:end:end]
}

// Facts returns all stored facts in order. The slice is borrowed.
func (s *Store) Facts() []Fact {
	return s.facts
}

// Count returns the number of stored facts.
func (s *Store) Count() int {
	return len(s.facts)
}

// NextID returns the ID the next Append will assign.
func (s *Store) NextID() ID {
	return s.nextID
}

// Generation returns the current generation.
func (s *Store) Generation() Generation {
	return s.generation
}

// GenerationFactCount returns the number of facts appended in the current
// generation.
func (s *Store) GenerationFactCount() int {
	return s.genCount
}

// NextGeneration closes the current generation and returns the new one.
//
// Stored facts are untouched; only counters change.
func (s *Store) NextGeneration() Generation {
	s.generation++
	s.genCount = 0
	last := &s.marks[len(s.marks)-1]
	if last.firstID == s.nextID {
		// No facts were appended in the closed generation; reuse the mark.
		last.gen = s.generation
	} else {
		s.marks = append(s.marks, genMark{gen: s.generation, firstID: s.nextID})
	}
	return s.generation
}

// GenerationOf returns the generation in which id was appended.
func (s *Store) GenerationOf(id ID) (Generation, bool) {
	if id == NoFact || id >= s.nextID {
		return 0, false
	}
	i := sort.Search(len(s.marks), func(i int) bool { return s.marks[i].firstID > id }) - 1
	if i < 0 {
		return 0, false
	}
	return s.marks[i].gen, true
}

// FirstIDOf returns the ID range [first, end) allocated in generation g.
//
// The boolean is false if no facts were allocated in g.
func (s *Store) FirstIDOf(g Generation) (first, end ID, ok bool) {
	for i, m := range s.marks {
		if m.gen != g {
			continue
		}
		end := s.nextID
		if i+1 < len(s.marks) {
			end = s.marks[i+1].firstID
		}
		if end == m.firstID {
			return 0, 0, false
		}
		return m.firstID, end, true
	}
	return 0, 0, false
}

// Compact removes every fact whose confidence is below minConfidence.
//
// The threshold is rounded to half precision like stored confidences, so a
// fact built with confidence c survives Compact(c). Returns the number of
// removed facts. Relative order is preserved.
func (s *Store) Compact(minConfidence float32) int {
	threshold := float16.Fromfloat32(minConfidence).Float32()
	return s.Retain(func(f Fact) bool {
		return f.Confidence() >= threshold
	})
}

// Retain keeps the facts for which keep returns true.
//
// Description:
//
//	One stable left-compaction pass, O(n). Removed IDs are never reused;
//	Get reports them as absent afterwards.
//
// Outputs:
//
//	int - Number of removed facts.
func (s *Store) Retain(keep func(Fact) bool) int {
	w := 0
	for _, f := range s.facts {
		if !keep(f) {
			s.index[f.id] = -1
			continue
		}
		s.index[f.id] = int32(w)
		s.facts[w] = f
		w++
	}
	removed := len(s.facts) - w
	clear(s.facts[w:])
	s.facts = s.facts[:w]
	return removed
}

// Clear removes all facts and restarts ID allocation at 1.
//
// The generation counter is not reset, so caches keyed on generations can
// never mistake new content for old.
func (s *Store) Clear() {
	clear(s.facts)
	s.facts = s.facts[:0]
	s.index = s.index[:1]
	s.reset()
}

// Iterator walks the store in order.
type Iterator struct {
	store *Store
	pos   int
}

// Iter returns an iterator positioned before the first fact.
func (s *Store) Iter() *Iterator {
	return &Iterator{store: s}
}

// Next returns the next fact, or false when exhausted.
func (it *Iterator) Next() (Fact, bool) {
	if it.pos >= len(it.store.facts) {
		return Fact{}, false
	}
	f := it.store.facts[it.pos]
	it.pos++
	return f, true
}

// Reset rewinds the iterator.
func (it *Iterator) Reset() {
	it.pos = 0
}

// All returns a range-over-func sequence of all stored facts.
func (s *Store) All() iter.Seq[Fact] {
	return func(yield func(Fact) bool) {
		for _, f := range s.facts {
			if !yield(f) {
				return
			}
		}
	}
}
