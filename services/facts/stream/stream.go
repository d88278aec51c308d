// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream provides pull-based, zero-allocation streams of bytes,
// tokens and facts.
//
// A Stream is a small value whose variant is fixed at construction. Source
// variants (slice, ring, generator, empty, error) own their state inline;
// combinators (filter, take, drop) keep theirs in an Arena and refer to it
// by index, so building a pipeline never allocates per item.
package stream

// Kind identifies the variant of a Stream.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindSlice
	KindRing
	KindGenerator
	KindError
	KindFilter
	KindTake
	KindDrop
)

var kindNames = [...]string{
	KindEmpty:     "empty",
	KindSlice:     "slice",
	KindRing:      "ring",
	KindGenerator: "generator",
	KindError:     "error",
	KindFilter:    "filter",
	KindTake:      "take",
	KindDrop:      "drop",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Generator produces the next item of a generator stream.
//
// It returns ok=false once the source is exhausted. A non-nil error is
// passed through Next unchanged.
type Generator[T any] func() (item T, ok bool, err error)

// Stream is a pull-based sequence of T.
//
// Description:
//
//	Next yields items in order. Peek returns the next item without
//	advancing. Skip advances up to n items and reports how many were
//	actually skipped. Position counts the items this stream has yielded.
//	Close releases the stream and, for combinators, its source.
//
// Limitations:
//
//	IsExhausted on a filter stream reports the state of its source. A
//	filter whose remaining source items all fail the predicate reports
//	false even though the next Next returns nothing.
//
// Thread Safety:
//
//	Not safe for concurrent use.
type Stream[T any] struct {
	kind Kind

	// slice
	items []T
	pos   int

	// ring
	ring *RingBuffer[T]

	// generator
	gen      Generator[T]
	onClose  func()
	done     bool
	peeked   bool
	peekItem T

	// error
	err       error
	delivered bool

	// combinators
	arena *Arena[T]
	op    int32
	epoch uint32

	produced int
	closed   bool
}

// Empty returns a stream with no items.
func Empty[T any]() Stream[T] {
	return Stream[T]{kind: KindEmpty}
}

// FromSlice returns a stream over items. The slice is borrowed.
func FromSlice[T any](items []T) Stream[T] {
	return Stream[T]{kind: KindSlice, items: items}
}

// FromBytes returns a byte stream over data.
func FromBytes(data []byte) Stream[byte] {
	return FromSlice(data)
}

// FromRing returns a stream that drains ring. Items pushed after creation
// are observed by later calls.
func FromRing[T any](ring *RingBuffer[T]) Stream[T] {
	return Stream[T]{kind: KindRing, ring: ring}
}

// FromGenerator returns a stream pulling items from next.
func FromGenerator[T any](next Generator[T]) Stream[T] {
	return Stream[T]{kind: KindGenerator, gen: next}
}

// FromGeneratorWithClose is FromGenerator with a release hook that runs
// once, on the first Close.
func FromGeneratorWithClose[T any](next Generator[T], onClose func()) Stream[T] {
	return Stream[T]{kind: KindGenerator, gen: next, onClose: onClose}
}

// Fail returns a stream whose first Next reports err. Afterwards the
// stream is exhausted.
func Fail[T any](err error) Stream[T] {
	return Stream[T]{kind: KindError, err: err}
}

// Kind returns the stream variant.
func (s *Stream[T]) Kind() Kind {
	return s.kind
}

func (s *Stream[T]) state() (*op[T], error) {
	if s.arena == nil || s.arena.epoch != s.epoch || int(s.op) >= len(s.arena.ops) {
		return nil, ErrArenaRotated
	}
	return &s.arena.ops[s.op], nil
}

// Next returns the next item. ok is false once the stream is exhausted.
func (s *Stream[T]) Next() (item T, ok bool, err error) {
	if s.closed {
		return item, false, nil
	}
	switch s.kind {
	case KindSlice:
		if s.pos >= len(s.items) {
			return item, false, nil
		}
		item = s.items[s.pos]
		s.pos++
		return item, true, nil

	case KindRing:
		item, ok = s.ring.Pop()
		if ok {
			s.produced++
		}
		return item, ok, nil

	case KindGenerator:
		if s.peeked {
			item = s.peekItem
			s.peeked = false
			s.peekItem = *new(T)
			s.produced++
			return item, true, nil
		}
		if s.done {
			return item, false, nil
		}
		item, ok, err = s.gen()
		if err != nil {
			return item, false, err
		}
		if !ok {
			s.done = true
			return item, false, nil
		}
		s.produced++
		return item, true, nil

	case KindError:
		if s.delivered {
			return item, false, nil
		}
		s.delivered = true
		return item, false, s.err

	case KindFilter:
		o, err := s.state()
		if err != nil {
			return item, false, err
		}
		for {
			item, ok, err = o.source.Next()
			if err != nil || !ok {
				return item, false, err
			}
			if o.pred(item) {
				o.count++
				return item, true, nil
			}
		}

	case KindTake:
		o, err := s.state()
		if err != nil {
			return item, false, err
		}
		if o.count >= o.n {
			return item, false, nil
		}
		item, ok, err = o.source.Next()
		if ok {
			o.count++
		}
		return item, ok, err

	case KindDrop:
		o, err := s.state()
		if err != nil {
			return item, false, err
		}
		if ready, err := o.dropPending(); !ready {
			return item, false, err
		}
		return o.source.Next()
	}
	return item, false, nil
}

// dropPending consumes the items a drop stream still owes its source.
func (o *op[T]) dropPending() (bool, error) {
	if o.count < o.n {
		skipped, err := o.source.Skip(o.n - o.count)
		o.count += skipped
		if err != nil {
			return false, err
		}
	}
	return o.count >= o.n, nil
}

// Peek returns the next item without consuming it.
func (s *Stream[T]) Peek() (item T, ok bool, err error) {
	if s.closed {
		return item, false, nil
	}
	switch s.kind {
	case KindSlice:
		if s.pos >= len(s.items) {
			return item, false, nil
		}
		return s.items[s.pos], true, nil

	case KindRing:
		item, ok = s.ring.Peek()
		return item, ok, nil

	case KindGenerator:
		if s.peeked {
			return s.peekItem, true, nil
		}
		if s.done {
			return item, false, nil
		}
		item, ok, err = s.gen()
		if err != nil {
			return item, false, err
		}
		if !ok {
			s.done = true
			return item, false, nil
		}
		s.peeked = true
		s.peekItem = item
		return item, true, nil

	case KindError:
		if s.delivered {
			return item, false, nil
		}
		return item, false, s.err

	case KindFilter:
		o, err := s.state()
		if err != nil {
			return item, false, err
		}
		for {
			item, ok, err = o.source.Peek()
			if err != nil || !ok {
				return item, false, err
			}
			if o.pred(item) {
				return item, true, nil
			}
			if _, _, err = o.source.Next(); err != nil {
				return item, false, err
			}
		}

	case KindTake:
		o, err := s.state()
		if err != nil {
			return item, false, err
		}
		if o.count >= o.n {
			return item, false, nil
		}
		return o.source.Peek()

	case KindDrop:
		o, err := s.state()
		if err != nil {
			return item, false, err
		}
		if ready, err := o.dropPending(); !ready {
			return item, false, err
		}
		return o.source.Peek()
	}
	return item, false, nil
}

// Skip advances past up to n items and returns how many were skipped.
func (s *Stream[T]) Skip(n int) (int, error) {
	if s.closed || n <= 0 {
		return 0, nil
	}
	switch s.kind {
	case KindSlice:
		k := min(n, len(s.items)-s.pos)
		s.pos += k
		return k, nil

	case KindTake:
		o, err := s.state()
		if err != nil {
			return 0, err
		}
		k, err := o.source.Skip(min(n, o.n-o.count))
		o.count += k
		return k, err

	case KindDrop:
		o, err := s.state()
		if err != nil {
			return 0, err
		}
		if ready, err := o.dropPending(); !ready {
			return 0, err
		}
		return o.source.Skip(n)
	}

	skipped := 0
	for skipped < n {
		_, ok, err := s.Next()
		if err != nil {
			return skipped, err
		}
		if !ok {
			break
		}
		skipped++
	}
	return skipped, nil
}

// Position returns the number of items this stream has yielded or skipped.
//
// A drop stream reports 0 until its drop count has been consumed.
func (s *Stream[T]) Position() int {
	switch s.kind {
	case KindSlice:
		return s.pos
	case KindRing, KindGenerator:
		return s.produced
	case KindFilter, KindTake:
		o, err := s.state()
		if err != nil {
			return 0
		}
		return o.count
	case KindDrop:
		o, err := s.state()
		if err != nil || o.count < o.n {
			return 0
		}
		return o.source.Position() - o.n
	}
	return 0
}

// IsExhausted reports whether Next will yield no further items.
//
// For filter streams this is the source's state; see Stream.
func (s *Stream[T]) IsExhausted() bool {
	if s.closed {
		return true
	}
	switch s.kind {
	case KindEmpty:
		return true
	case KindSlice:
		return s.pos >= len(s.items)
	case KindRing:
		return s.ring.IsEmpty()
	case KindGenerator:
		return s.done && !s.peeked
	case KindError:
		return s.delivered
	case KindFilter, KindDrop:
		o, err := s.state()
		if err != nil {
			return true
		}
		return o.source.IsExhausted()
	case KindTake:
		o, err := s.state()
		if err != nil {
			return true
		}
		return o.count >= o.n || o.source.IsExhausted()
	}
	return true
}

// Close releases the stream. Combinators close their source. Calling Close
// more than once is a no-op.
func (s *Stream[T]) Close() {
	if s.closed {
		return
	}
	s.closed = true
	switch s.kind {
	case KindGenerator:
		if s.onClose != nil {
			s.onClose()
		}
		s.peeked = false
		s.peekItem = *new(T)
	case KindFilter, KindTake, KindDrop:
		if o, err := s.state(); err == nil {
			o.source.Close()
		}
	}
}

// Collect drains up to limit items into a new slice. A limit of zero or
// less drains the whole stream.
func Collect[T any](s *Stream[T], limit int) ([]T, error) {
	var out []T
	for limit <= 0 || len(out) < limit {
		item, ok, err := s.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, item)
	}
	return out, nil
}

// ForEach calls fn for every remaining item. It stops at the first error
// from the stream or from fn.
func ForEach[T any](s *Stream[T], fn func(T) error) error {
	for {
		item, ok, err := s.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(item); err != nil {
			return err
		}
	}
}
