// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package edit

import (
	"errors"
	"fmt"
	"slices"

	"github.com/AleutianAI/factstream/services/facts/span"
)

var (
	// ErrEditOutOfRange indicates an edit span past the end of the text.
	ErrEditOutOfRange = errors.New("edit out of range")

	// ErrOverlappingEdits indicates two edits in one batch touch the same
	// bytes. Overlapping batches are a caller error.
	ErrOverlappingEdits = errors.New("overlapping edits")
)

// Sequence is an ordered list of edits.
//
// Each edit is expressed in the coordinates of the text produced by the
// edits before it, so the list is applied in order.
type Sequence struct {
	edits []Edit
}

// NewSequence creates a sequence from edits in application order.
func NewSequence(edits ...Edit) *Sequence {
	return &Sequence{edits: slices.Clone(edits)}
}

// Add appends e.
func (s *Sequence) Add(e Edit) {
	s.edits = append(s.edits, e)
}

// Edits returns the edits in application order. The slice is borrowed.
func (s *Sequence) Edits() []Edit {
	return s.edits
}

// Len returns the number of edits.
func (s *Sequence) Len() int {
	return len(s.edits)
}

// TotalDelta returns the net change in text length.
func (s *Sequence) TotalDelta() int64 {
	var d int64
	for _, e := range s.edits {
		d += e.DeltaLength()
	}
	return d
}

// AffectedSpan returns the smallest span covering every edit's target and
// result range. The boolean is false for an empty sequence.
func (s *Sequence) AffectedSpan() (span.Span, bool) {
	if len(s.edits) == 0 {
		return span.Span{}, false
	}
	out := s.edits[0].Span.Merge(s.edits[0].ResultSpan())
	for _, e := range s.edits[1:] {
		out = out.Merge(e.Span).Merge(e.ResultSpan())
	}
	return out, true
}

// AdjustSpan folds target through every edit in list order.
func (s *Sequence) AdjustSpan(target span.Span) span.Span {
	for _, e := range s.edits {
		target = e.AdjustSpan(target)
	}
	return target
}

// AdjustPosition folds pos through every edit in list order.
func (s *Sequence) AdjustPosition(pos uint32) uint32 {
	for _, e := range s.edits {
		pos = e.AdjustPosition(pos)
	}
	return pos
}

// Apply applies the edits to src in list order and returns the new text.
func (s *Sequence) Apply(src []byte) ([]byte, error) {
	out := slices.Clone(src)
	for i, e := range s.edits {
		if int(e.Span.End) > len(out) {
			return nil, fmt.Errorf("edit %d %s on %d bytes: %w", i, e, len(out), ErrEditOutOfRange)
		}
		out = splice(out, e)
	}
	return out, nil
}

// ApplyEdits applies a batch of edits, all expressed against src, and
// returns the new text.
//
// Description:
//
//	Edits are applied from the highest position to the lowest so earlier
//	offsets stay valid. Inserts at the same position keep their list
//	order in the output. A batch where two edits share bytes is rejected
//	with ErrOverlappingEdits.
//
// Outputs:
//
//	[]byte - The edited text. src is not modified.
//	error - ErrEditOutOfRange or ErrOverlappingEdits.
func ApplyEdits(src []byte, edits []Edit) ([]byte, error) {
	type indexed struct {
		e   Edit
		idx int
	}
	order := make([]indexed, len(edits))
	for i, e := range edits {
		if int(e.Span.End) > len(src) {
			return nil, fmt.Errorf("edit %d %s on %d bytes: %w", i, e, len(src), ErrEditOutOfRange)
		}
		order[i] = indexed{e: e, idx: i}
	}
	slices.SortFunc(order, func(a, b indexed) int {
		switch {
		case a.e.Span.Start != b.e.Span.Start:
			return int(int64(b.e.Span.Start) - int64(a.e.Span.Start))
		case a.e.Span.End != b.e.Span.End:
			return int(int64(b.e.Span.End) - int64(a.e.Span.End))
		default:
			return b.idx - a.idx
		}
	})

	for i := 1; i < len(order); i++ {
		prev, cur := order[i-1].e, order[i].e
		if cur.Span.End > prev.Span.Start {
			return nil, fmt.Errorf("edits %d and %d: %w", order[i].idx, order[i-1].idx, ErrOverlappingEdits)
		}
	}

	out := slices.Clone(src)
	for _, o := range order {
		out = splice(out, o.e)
	}
	return out, nil
}

func splice(text []byte, e Edit) []byte {
	start, end := int(e.Span.Start), int(e.Span.End)
	if e.Op == OpInsert {
		end = start
	}
	var repl []byte
	if e.Op != OpDelete {
		repl = e.NewText
	}
	return slices.Replace(text, start, end, repl...)
}
