// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package span

import (
	"slices"
)

// Set is a sorted collection of spans.
//
// Description:
//
//	Add appends without sorting. After Normalize, the spans are sorted by
//	start, pairwise non-overlapping and non-adjacent (touching spans are
//	merged). Every query method normalises first, so callers only need to
//	call Normalize explicitly when they want to inspect Spans() directly.
//
// Thread Safety:
//
//	Not safe for concurrent use.
type Set struct {
	spans      []Span
	normalized bool
}

// NewSet creates a set holding the given spans.
func NewSet(spans ...Span) *Set {
	s := &Set{spans: make([]Span, 0, len(spans))}
	for _, sp := range spans {
		s.Add(sp)
	}
	return s
}

// Add inserts a span. Empty spans are ignored.
func (s *Set) Add(sp Span) {
	if sp.IsEmpty() {
		return
	}
	s.spans = append(s.spans, sp)
	s.normalized = false
}

// Normalize sorts the spans and merges overlapping or adjacent ones.
func (s *Set) Normalize() {
	if s.normalized {
		return
	}
	s.normalized = true
	if len(s.spans) < 2 {
		return
	}

	slices.SortFunc(s.spans, func(a, b Span) int {
		if a.Start != b.Start {
			if a.Start < b.Start {
				return -1
			}
			return 1
		}
		if a.End < b.End {
			return -1
		}
		if a.End > b.End {
			return 1
		}
		return 0
	})

	out := s.spans[:1]
	for _, sp := range s.spans[1:] {
		last := &out[len(out)-1]
		if sp.Start <= last.End {
			if sp.End > last.End {
				last.End = sp.End
			}
			continue
		}
		out = append(out, sp)
	}
	s.spans = out
}

// Spans returns the normalised spans. The slice is borrowed.
func (s *Set) Spans() []Span {
	s.Normalize()
	return s.spans
}

// Len returns the number of normalised spans.
func (s *Set) Len() int {
	s.Normalize()
	return len(s.spans)
}

// Contains reports whether pos is covered by any span.
func (s *Set) Contains(pos uint32) bool {
	s.Normalize()
	_, found := slices.BinarySearchFunc(s.spans, pos, func(sp Span, p uint32) int {
		switch {
		case sp.End <= p:
			return -1
		case sp.Start > p:
			return 1
		default:
			return 0
		}
	})
	return found
}

// Overlaps reports whether sp overlaps any span in the set.
func (s *Set) Overlaps(sp Span) bool {
	s.Normalize()
	for _, cur := range s.spans {
		if cur.Start >= sp.End {
			return false
		}
		if cur.Overlaps(sp) {
			return true
		}
	}
	return false
}

// Union returns a new normalised set covering both sets.
func (s *Set) Union(other *Set) *Set {
	out := &Set{spans: make([]Span, 0, len(s.spans)+len(other.spans))}
	out.spans = append(out.spans, s.spans...)
	out.spans = append(out.spans, other.spans...)
	out.Normalize()
	return out
}

// Intersection returns a new normalised set of positions covered by both sets.
func (s *Set) Intersection(other *Set) *Set {
	a := s.Spans()
	b := other.Spans()
	out := &Set{}

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if in, ok := a[i].Intersect(b[j]); ok {
			out.spans = append(out.spans, in)
		}
		if a[i].End < b[j].End {
			i++
		} else {
			j++
		}
	}
	out.Normalize()
	return out
}

// Total returns the number of bytes covered by the set.
func (s *Set) Total() uint64 {
	var n uint64
	for _, sp := range s.Spans() {
		n += uint64(sp.Len())
	}
	return n
}

// Clear removes all spans, keeping capacity.
func (s *Set) Clear() {
	s.spans = s.spans[:0]
	s.normalized = true
}
