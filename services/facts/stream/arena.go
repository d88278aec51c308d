// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

// DefaultArenaCapacity is the initial operator capacity of a new Arena.
const DefaultArenaCapacity = 32

type opKind uint8

const (
	opFilter opKind = iota + 1
	opTake
	opDrop
)

// op is the state of one combinator. It owns its source stream.
type op[T any] struct {
	kind   opKind
	source Stream[T]
	pred   func(T) bool
	n      int // take: limit; drop: number to drop
	count  int // filter: yielded; take: yielded; drop: dropped so far
}

// Arena owns combinator state for streams of T.
//
// Description:
//
//	Filter, Take and Drop store their state in the arena and hand back a
//	Stream that refers to it by index. Rotate frees every operator at once
//	and bumps the arena epoch; any stream built before the rotation then
//	fails with ErrArenaRotated instead of reading recycled state.
//
//	Callers rotate between independent top-level constructions, for
//	example once per file.
//
// Thread Safety:
//
//	Not safe for concurrent use. Each worker goroutine must own its arena;
//	streams built on one arena must not cross goroutines.
type Arena[T any] struct {
	ops   []op[T]
	epoch uint32
	peak  int
}

// NewArena creates an arena with room for capacity operators.
func NewArena[T any](capacity int) *Arena[T] {
	if capacity <= 0 {
		capacity = DefaultArenaCapacity
	}
	return &Arena[T]{ops: make([]op[T], 0, capacity)}
}

// Filter returns a stream yielding the items of src for which pred is true.
//
// src is moved into the arena; the caller must not use it afterwards.
func (a *Arena[T]) Filter(src Stream[T], pred func(T) bool) Stream[T] {
	return a.alloc(op[T]{kind: opFilter, source: src, pred: pred})
}

// Take returns a stream yielding at most n items of src.
func (a *Arena[T]) Take(src Stream[T], n int) Stream[T] {
	return a.alloc(op[T]{kind: opTake, source: src, n: max(n, 0)})
}

// Drop returns a stream that skips the first n items of src.
func (a *Arena[T]) Drop(src Stream[T], n int) Stream[T] {
	return a.alloc(op[T]{kind: opDrop, source: src, n: max(n, 0)})
}

func (a *Arena[T]) alloc(o op[T]) Stream[T] {
	a.ops = append(a.ops, o)
	if len(a.ops) > a.peak {
		a.peak = len(a.ops)
	}
	kind := KindFilter
	switch o.kind {
	case opTake:
		kind = KindTake
	case opDrop:
		kind = KindDrop
	}
	return Stream[T]{kind: kind, arena: a, op: int32(len(a.ops) - 1), epoch: a.epoch}
}

// Rotate frees all operators and invalidates every stream built on them.
func (a *Arena[T]) Rotate() {
	clear(a.ops)
	a.ops = a.ops[:0]
	a.epoch++
}

// Len returns the number of live operators.
func (a *Arena[T]) Len() int {
	return len(a.ops)
}

// Peak returns the largest number of live operators seen.
func (a *Arena[T]) Peak() int {
	return a.peak
}

// Epoch returns the rotation counter.
func (a *Arena[T]) Epoch() uint32 {
	return a.epoch
}
