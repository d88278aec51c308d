// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package span provides byte-range location primitives for the fact engine.
//
// A Span is a half-open range [Start, End) of byte offsets into source text.
// A PackedSpan is its bit-exact 64-bit encoding (32-bit start, 32-bit length)
// used wherever a fixed-size record needs to carry a location.
//
// All Span and PackedSpan operations are pure, allocation-free and O(1).
package span

import (
	"fmt"
	"math"
)

// Span is a half-open byte range [Start, End).
//
// Invariant: Start <= End. Constructors normalise reversed input rather
// than failing, so a Span obtained from New is always valid.
type Span struct {
	Start uint32
	End   uint32
}

// New creates a span covering [start, end).
//
// If end < start the bounds are swapped so the invariant holds.
func New(start, end uint32) Span {
	if end < start {
		start, end = end, start
	}
	return Span{Start: start, End: end}
}

// At returns the single-byte span [pos, pos+1).
//
// At the top of the offset space the span is clamped to an empty span.
func At(pos uint32) Span {
	if pos == math.MaxUint32 {
		return Span{Start: pos, End: pos}
	}
	return Span{Start: pos, End: pos + 1}
}

// Empty returns the zero-length span at pos.
func Empty(pos uint32) Span {
	return Span{Start: pos, End: pos}
}

// Len returns the number of bytes covered.
func (s Span) Len() uint32 {
	return s.End - s.Start
}

// IsEmpty reports whether the span covers no bytes.
func (s Span) IsEmpty() bool {
	return s.Start == s.End
}

// IsValid reports whether Start <= End.
func (s Span) IsValid() bool {
	return s.Start <= s.End
}

// Contains reports whether pos lies inside the span.
func (s Span) Contains(pos uint32) bool {
	return pos >= s.Start && pos < s.End
}

// ContainsSpan reports whether other lies entirely inside s.
func (s Span) ContainsSpan(other Span) bool {
	return other.Start >= s.Start && other.End <= s.End
}

// Overlaps reports whether the two spans share at least one position.
//
// The test is the exact half-open overlap test. An empty span overlaps a
// span only when it sits strictly inside it.
func (s Span) Overlaps(other Span) bool {
	return s.Start < other.End && other.Start < s.End
}

// IsAdjacent reports whether the spans touch without overlapping.
func (s Span) IsAdjacent(other Span) bool {
	return s.End == other.Start || other.End == s.Start
}

// Merge returns the smallest span covering both s and other.
//
// Callers must check Overlaps or Distance first: merging two spans that
// neither overlap nor touch also covers the gap between them.
func (s Span) Merge(other Span) Span {
	return Span{
		Start: min(s.Start, other.Start),
		End:   max(s.End, other.End),
	}
}

// Intersect returns the overlapping part of both spans.
//
// The boolean is false when the spans do not overlap.
func (s Span) Intersect(other Span) (Span, bool) {
	if !s.Overlaps(other) {
		return Span{}, false
	}
	return Span{
		Start: max(s.Start, other.Start),
		End:   min(s.End, other.End),
	}, true
}

// Distance returns the length of the gap between two spans.
//
// Overlapping and adjacent spans have distance 0.
func (s Span) Distance(other Span) uint32 {
	switch {
	case s.End <= other.Start:
		return other.Start - s.End
	case other.End <= s.Start:
		return s.Start - other.End
	default:
		return 0
	}
}

// Shift moves the span by delta, saturating at the ends of the offset space.
func (s Span) Shift(delta int64) Span {
	return Span{Start: clampOffset(int64(s.Start) + delta), End: clampOffset(int64(s.End) + delta)}
}

// Pack encodes the span into its 64-bit form.
func (s Span) Pack() PackedSpan {
	return Pack(s)
}

// String formats the span as "[start,end)".
func (s Span) String() string {
	return fmt.Sprintf("[%d,%d)", s.Start, s.End)
}

func clampOffset(v int64) uint32 {
	if v < 0 {
		return 0
	}
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}
