// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package atom provides slab-backed string interning.
//
// An AtomTable maps byte sequences to small stable integer IDs (atoms).
// Interning the same bytes twice yields the same ID; IDs are assigned
// densely starting at 1, with 0 reserved as the invalid atom.
//
// # Storage
//
// Interned bytes live in append-only slab pages (DefaultPageSize bytes each).
// Strings larger than half a page bypass the slabs and are stored in their
// own allocation. Individual atoms are never deleted; only Clear resets the
// table.
//
// # Thread Safety
//
// Table is not safe for concurrent use. Sessions own their table and
// serialise access with their own lock.
package atom

import (
	"bytes"
	"errors"
	"math"

	"github.com/cespare/xxhash/v2"
)

// DefaultPageSize is the slab page size in bytes.
const DefaultPageSize = 4096

// ID identifies an interned string. 0 is the invalid atom.
type ID uint32

// Invalid is the reserved "no atom" value.
const Invalid ID = 0

var (
	// ErrTableFull is returned when the 32-bit atom ID space is exhausted.
	ErrTableFull = errors.New("atom table full")

	// ErrCapacityExceeded is returned when interning would exceed the
	// configured byte budget.
	ErrCapacityExceeded = errors.New("atom table capacity exceeded")
)

// Stats reports exact table counters.
type Stats struct {
	// Count is the number of interned atoms.
	Count int

	// LookupHits counts lookups (Intern or Lookup) that found an existing atom.
	LookupHits uint64

	// LookupMisses counts lookups that did not find an atom.
	LookupMisses uint64

	// TotalBytes is the sum of the lengths of all interned strings.
	TotalBytes uint64

	// Slabs is the number of slab pages in use.
	Slabs int

	// Standalone is the number of atoms stored outside the slabs.
	Standalone int
}

// HitRate returns lookup hits as a percentage of all lookups.
func (s Stats) HitRate() float64 {
	total := s.LookupHits + s.LookupMisses
	if total == 0 {
		return 0
	}
	return float64(s.LookupHits) / float64(total) * 100
}

// ref locates an atom's bytes. slab < 0 means standalone storage.
type ref struct {
	slab int32
	off  uint32
	n    uint32
}

// Options configures a Table.
type Options struct {
	// PageSize is the slab page size. Default: DefaultPageSize.
	PageSize int

	// MaxBytes caps TotalBytes. 0 means unlimited.
	MaxBytes uint64
}

// Option is a functional option for NewTable.
type Option func(*Options)

// WithPageSize sets the slab page size.
func WithPageSize(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.PageSize = n
		}
	}
}

// WithMaxBytes caps the total number of interned bytes.
func WithMaxBytes(n uint64) Option {
	return func(o *Options) {
		o.MaxBytes = n
	}
}

// Table is a hash-consing string interner.
type Table struct {
	opts Options

	slabs      [][]byte
	standalone [][]byte

	// refs[i] locates atom ID i+1.
	refs []ref

	// buckets maps a 64-bit content hash to the atoms sharing it.
	// Equality is always confirmed by comparing bytes.
	buckets map[uint64][]ID

	hits       uint64
	misses     uint64
	totalBytes uint64
}

// NewTable creates an empty table.
func NewTable(opts ...Option) *Table {
	options := Options{PageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(&options)
	}
	return &Table{
		opts:    options,
		buckets: make(map[uint64][]ID),
	}
}

// Intern returns the atom for b, interning it if needed.
//
// Description:
//
//	Hashes b, looks the hash bucket up and compares content byte-for-byte.
//	On a miss the bytes are copied into the current slab page (or a new
//	page, or standalone storage for large strings) and the next ID,
//	Count()+1, is assigned.
//
// Outputs:
//
//	ID - The atom. Never Invalid when err is nil.
//	error - ErrTableFull or ErrCapacityExceeded.
func (t *Table) Intern(b []byte) (ID, error) {
	h := xxhash.Sum64(b)
	if id, ok := t.find(h, b); ok {
		t.hits++
		return id, nil
	}
	t.misses++

	if uint64(len(t.refs)) >= math.MaxUint32 {
		return Invalid, ErrTableFull
	}
	if t.opts.MaxBytes > 0 && t.totalBytes+uint64(len(b)) > t.opts.MaxBytes {
		return Invalid, ErrCapacityExceeded
	}

	r := t.store(b)
	t.refs = append(t.refs, r)
	id := ID(len(t.refs))
	t.buckets[h] = append(t.buckets[h], id)
	t.totalBytes += uint64(len(b))
	return id, nil
}

// InternString is Intern for strings.
func (t *Table) InternString(s string) (ID, error) {
	return t.Intern([]byte(s))
}

// Lookup returns the atom for b without interning.
func (t *Table) Lookup(b []byte) (ID, bool) {
	id, ok := t.find(xxhash.Sum64(b), b)
	if ok {
		t.hits++
	} else {
		t.misses++
	}
	return id, ok
}

// Bytes returns the interned bytes for id.
//
// The slice is borrowed from table storage and is only valid until Clear.
// Returns nil, false for Invalid or unknown IDs.
func (t *Table) Bytes(id ID) ([]byte, bool) {
	if id == Invalid || int(id) > len(t.refs) {
		return nil, false
	}
	return t.bytesOf(t.refs[id-1]), true
}

// String returns a copy of the interned string for id.
func (t *Table) String(id ID) (string, bool) {
	b, ok := t.Bytes(id)
	if !ok {
		return "", false
	}
	return string(b), true
}

// Count returns the number of interned atoms.
func (t *Table) Count() int {
	return len(t.refs)
}

// Stats returns the exact table counters.
func (t *Table) Stats() Stats {
	return Stats{
		Count:        len(t.refs),
		LookupHits:   t.hits,
		LookupMisses: t.misses,
		TotalBytes:   t.totalBytes,
		Slabs:        len(t.slabs),
		Standalone:   len(t.standalone),
	}
}

// Clear resets the table to empty.
//
// When retainCapacity is true the first slab page is kept (truncated) so
// repeated fill/clear cycles do not reallocate it. All previously returned
// byte slices become invalid.
func (t *Table) Clear(retainCapacity bool) {
	if retainCapacity && len(t.slabs) > 0 {
		first := t.slabs[0][:0]
		clear(t.slabs)
		t.slabs = append(t.slabs[:0], first)
	} else {
		t.slabs = nil
	}
	t.standalone = nil
	t.refs = t.refs[:0]
	clear(t.buckets)
	t.hits = 0
	t.misses = 0
	t.totalBytes = 0
}

func (t *Table) find(h uint64, b []byte) (ID, bool) {
	for _, id := range t.buckets[h] {
		if bytes.Equal(t.bytesOf(t.refs[id-1]), b) {
			return id, true
		}
	}
	return Invalid, false
}

func (t *Table) bytesOf(r ref) []byte {
	if r.slab < 0 {
		return t.standalone[r.off]
	}
	page := t.slabs[r.slab]
	return page[r.off : r.off+r.n : r.off+r.n]
}

// store copies b into table-owned memory and returns its location.
func (t *Table) store(b []byte) ref {
	pageSize := t.opts.PageSize
	if len(b) > pageSize/2 {
		owned := make([]byte, len(b))
		copy(owned, b)
		t.standalone = append(t.standalone, owned)
		return ref{slab: -1, off: uint32(len(t.standalone) - 1), n: uint32(len(b))}
	}

	if n := len(t.slabs); n == 0 || cap(t.slabs[n-1])-len(t.slabs[n-1]) < len(b) {
		t.slabs = append(t.slabs, make([]byte, 0, pageSize))
	}

	idx := len(t.slabs) - 1
	page := t.slabs[idx]
	off := len(page)
	t.slabs[idx] = append(page, b...)
	return ref{slab: int32(idx), off: uint32(off), n: uint32(len(b))}
}
