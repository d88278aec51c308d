// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lexer

import (
	"fmt"

	"github.com/AleutianAI/factstream/services/facts/span"
)

// Kind is the lexical class of a token.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindLBrace
	KindRBrace
	KindLBracket
	KindRBracket
	KindColon
	KindComma
	KindString
	KindNumber
	KindTrue
	KindFalse
	KindNull
	KindComment
)

var kindNames = [...]string{
	KindInvalid:  "invalid",
	KindLBrace:   "{",
	KindRBrace:   "}",
	KindLBracket: "[",
	KindRBracket: "]",
	KindColon:    ":",
	KindComma:    ",",
	KindString:   "string",
	KindNumber:   "number",
	KindTrue:     "true",
	KindFalse:    "false",
	KindNull:     "null",
	KindComment:  "comment",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsOpen reports whether k opens a container.
func (k Kind) IsOpen() bool {
	return k == KindLBrace || k == KindLBracket
}

// IsClose reports whether k closes a container.
func (k Kind) IsClose() bool {
	return k == KindRBrace || k == KindRBracket
}

// IsScalar reports whether k is a JSON value that is not a container.
func (k Kind) IsScalar() bool {
	switch k {
	case KindString, KindNumber, KindTrue, KindFalse, KindNull:
		return true
	}
	return false
}

// Flags carry per-token annotations.
type Flags uint8

const (
	// FlagKey marks a string followed by a colon.
	FlagKey Flags = 1 << iota

	// FlagUnterminated marks a string or block comment that runs into a
	// newline or the end of input.
	FlagUnterminated

	// FlagTrailingComma marks a comma directly followed by a closing
	// bracket or brace.
	FlagTrailingComma

	// FlagMalformed marks a number that does not parse.
	FlagMalformed

	// FlagUnbalanced marks a closing bracket with no open container.
	FlagUnbalanced
)

// Has reports whether every bit of mask is set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// Token is one lexical token. It is 12 bytes and copied by value.
//
// Depth is the number of containers enclosing the token. An opening and
// its matching closing bracket share the depth of the enclosing level.
type Token struct {
	Span  span.PackedSpan
	Depth uint16
	Kind  Kind
	Flags Flags
}

// Start returns the offset of the first byte.
func (t Token) Start() uint32 {
	return t.Span.Start()
}

// End returns the offset one past the last byte.
func (t Token) End() uint32 {
	return t.Span.End()
}

// Text returns the token bytes within src.
func (t Token) Text(src []byte) []byte {
	s := t.Span.Unpack()
	if int(s.End) > len(src) {
		return nil
	}
	return src[s.Start:s.End]
}

// DepthBefore returns the lexer depth just before t.
func (t Token) DepthBefore() int {
	if t.Kind.IsClose() && !t.Flags.Has(FlagUnbalanced) {
		return int(t.Depth) + 1
	}
	return int(t.Depth)
}

// DepthAfter returns the lexer depth just after t.
func (t Token) DepthAfter() int {
	if t.Kind.IsOpen() {
		return int(t.Depth) + 1
	}
	return int(t.Depth)
}

func (t Token) String() string {
	return fmt.Sprintf("%s%s@%d", t.Kind, t.Span, t.Depth)
}
