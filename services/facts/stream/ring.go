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

// RingBuffer is a fixed-capacity FIFO queue.
//
// Capacity is rounded up to a power of two. Push never grows the buffer;
// a full buffer rejects the item with ErrBufferFull.
type RingBuffer[T any] struct {
	items []T
	mask  uint64
	head  uint64 // next read
	tail  uint64 // next write
}

// NewRingBuffer creates a ring buffer holding at least capacity items.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &RingBuffer[T]{
		items: make([]T, size),
		mask:  uint64(size - 1),
	}
}

// Push appends v. Returns ErrBufferFull when the buffer is full.
func (r *RingBuffer[T]) Push(v T) error {
	if r.IsFull() {
		return ErrBufferFull
	}
	r.items[r.tail&r.mask] = v
	r.tail++
	return nil
}

// Pop removes and returns the oldest item.
func (r *RingBuffer[T]) Pop() (T, bool) {
	var zero T
	if r.head == r.tail {
		return zero, false
	}
	idx := r.head & r.mask
	v := r.items[idx]
	r.items[idx] = zero
	r.head++
	return v, true
}

// Peek returns the oldest item without removing it.
func (r *RingBuffer[T]) Peek() (T, bool) {
	if r.head == r.tail {
		var zero T
		return zero, false
	}
	return r.items[r.head&r.mask], true
}

// Len returns the number of buffered items.
func (r *RingBuffer[T]) Len() int {
	return int(r.tail - r.head)
}

// Cap returns the buffer capacity.
func (r *RingBuffer[T]) Cap() int {
	return len(r.items)
}

// IsFull reports whether Push would fail.
func (r *RingBuffer[T]) IsFull() bool {
	return r.Len() == len(r.items)
}

// IsEmpty reports whether Pop would fail.
func (r *RingBuffer[T]) IsEmpty() bool {
	return r.head == r.tail
}

// Reset drops all buffered items.
func (r *RingBuffer[T]) Reset() {
	clear(r.items)
	r.head = 0
	r.tail = 0
}
