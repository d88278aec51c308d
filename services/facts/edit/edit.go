// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package edit models text mutations and how they reshape spans computed
// against the text before the mutation.
package edit

import (
	"fmt"
	"math"
	"time"

	"github.com/AleutianAI/factstream/services/facts/span"
)

// Op is the kind of text mutation.
type Op uint8

const (
	OpInsert Op = iota + 1
	OpDelete
	OpReplace
)

// String returns the lowercase operation name.
func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Edit is a single insert, delete or replace.
//
// For an insert, Span is the empty span at the insertion point. For a
// delete, NewText is empty.
type Edit struct {
	Span      span.Span
	Op        Op
	NewText   []byte
	Timestamp time.Time
}

// Insert creates an edit inserting text at pos.
func Insert(pos uint32, text []byte) Edit {
	return Edit{Span: span.Empty(pos), Op: OpInsert, NewText: text}
}

// Delete creates an edit removing s.
func Delete(s span.Span) Edit {
	return Edit{Span: s, Op: OpDelete}
}

// Replace creates an edit replacing s with text.
func Replace(s span.Span, text []byte) Edit {
	return Edit{Span: s, Op: OpReplace, NewText: text}
}

// At returns a copy of e stamped with t.
func (e Edit) At(t time.Time) Edit {
	e.Timestamp = t
	return e
}

// DeltaLength returns the change in text length caused by e.
func (e Edit) DeltaLength() int64 {
	switch e.Op {
	case OpInsert:
		return int64(len(e.NewText))
	case OpDelete:
		return -int64(e.Span.Len())
	case OpReplace:
		return int64(len(e.NewText)) - int64(e.Span.Len())
	default:
		return 0
	}
}

// ResultSpan returns the span the new text occupies after e is applied.
func (e Edit) ResultSpan() span.Span {
	return span.Span{Start: e.Span.Start, End: clamp(int64(e.Span.Start) + int64(len(e.NewText)))}
}

// AdjustSpan maps target, computed against the text before e, onto the
// text after e.
//
// Description:
//
//	A target entirely before the edit is returned unchanged. A target
//	entirely after it is shifted by DeltaLength. Otherwise each endpoint
//	is mapped on its own: an insert moves only positions at or after the
//	insertion point; a delete collapses positions inside the deleted range
//	to its start and shifts later positions back by the deleted length; a
//	replace is a delete followed by an insert of the new text at the
//	deletion start.
func (e Edit) AdjustSpan(target span.Span) span.Span {
	if target.End <= e.Span.Start {
		return target
	}
	if target.Start >= e.Span.End {
		return target.Shift(e.DeltaLength())
	}
	return span.Span{Start: e.AdjustPosition(target.Start), End: e.AdjustPosition(target.End)}
}

// AdjustPosition maps a single offset through e.
func (e Edit) AdjustPosition(pos uint32) uint32 {
	p := int64(pos)
	start := int64(e.Span.Start)
	switch e.Op {
	case OpInsert:
		return clamp(insertPos(p, start, int64(len(e.NewText))))
	case OpDelete:
		return clamp(deletePos(p, start, int64(e.Span.End)))
	case OpReplace:
		return clamp(insertPos(deletePos(p, start, int64(e.Span.End)), start, int64(len(e.NewText))))
	default:
		return pos
	}
}

func insertPos(p, at, n int64) int64 {
	if p >= at {
		return p + n
	}
	return p
}

func deletePos(p, start, end int64) int64 {
	switch {
	case p <= start:
		return p
	case p < end:
		return start
	default:
		return p - (end - start)
	}
}

func clamp(v int64) uint32 {
	if v < 0 {
		return 0
	}
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

// String formats the edit for logs.
func (e Edit) String() string {
	return fmt.Sprintf("%s%s(+%d)", e.Op, e.Span, len(e.NewText))
}
