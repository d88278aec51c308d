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

import "unsafe"

// PackedSpan is the 8-byte encoding of a Span.
//
// Layout: the high 32 bits hold the start offset, the low 32 bits hold the
// length. The encoding is bit-exact and shared with serialized fact streams.
type PackedSpan uint64

// Compile-time check that PackedSpan stays exactly 8 bytes.
var _ [8 - unsafe.Sizeof(PackedSpan(0))]struct{}
var _ [unsafe.Sizeof(PackedSpan(0)) - 8]struct{}

// Pack encodes s. Pack and Unpack are inverse for every valid span.
func Pack(s Span) PackedSpan {
	return PackedSpan(uint64(s.Start)<<32 | uint64(s.End-s.Start))
}

// Unpack decodes p back into a Span.
//
// A packed value whose start+length exceeds the offset space decodes with
// End clamped to the maximum offset.
func (p PackedSpan) Unpack() Span {
	start := p.Start()
	end := uint64(start) + uint64(p.Len())
	if end > 0xFFFFFFFF {
		end = 0xFFFFFFFF
	}
	return Span{Start: start, End: uint32(end)}
}

// Start returns the encoded start offset.
func (p PackedSpan) Start() uint32 {
	return uint32(p >> 32)
}

// Len returns the encoded length.
func (p PackedSpan) Len() uint32 {
	return uint32(p)
}

// End returns the exclusive end offset.
func (p PackedSpan) End() uint32 {
	return p.Unpack().End
}

// String formats the decoded span.
func (p PackedSpan) String() string {
	return p.Unpack().String()
}
