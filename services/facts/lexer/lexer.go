// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lexer tokenizes JSON into tokens and facts.
//
// The lexer is total: every byte of input ends up in a token or in skipped
// whitespace, and malformed input produces flagged tokens rather than
// errors. Line and block comments are tolerated.
package lexer

import (
	"strconv"

	"github.com/AleutianAI/factstream/services/facts/span"
	"github.com/AleutianAI/factstream/services/facts/stream"
)

// Lexer produces tokens from a byte slice.
//
// Thread Safety:
//
//	Not safe for concurrent use.
type Lexer struct {
	src   []byte
	pos   int
	depth int
}

// New creates a lexer at the start of src.
func New(src []byte) *Lexer {
	return &Lexer{src: src}
}

// LexFrom creates a lexer resuming at offset with the given nesting depth.
//
// offset must be a token boundary or whitespace; the depth is the value
// Token.DepthAfter reported for the token before offset.
func LexFrom(src []byte, offset, depth int) *Lexer {
	offset = min(max(offset, 0), len(src))
	return &Lexer{src: src, pos: offset, depth: max(depth, 0)}
}

// Pos returns the offset of the next unread byte.
func (l *Lexer) Pos() int {
	return l.pos
}

// Depth returns the current nesting depth.
func (l *Lexer) Depth() int {
	return l.depth
}

// Next returns the next token, or false at the end of input.
func (l *Lexer) Next() (Token, bool) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return Token{}, false
	}

	start := l.pos
	c := l.src[l.pos]
	var kind Kind
	var flags Flags
	depth := l.depth

	switch {
	case c == '{' || c == '[':
		kind = KindLBrace
		if c == '[' {
			kind = KindLBracket
		}
		l.pos++
		l.depth++
	case c == '}' || c == ']':
		kind = KindRBrace
		if c == ']' {
			kind = KindRBracket
		}
		l.pos++
		if l.depth > 0 {
			l.depth--
		} else {
			flags |= FlagUnbalanced
		}
		depth = l.depth
	case c == ':':
		kind = KindColon
		l.pos++
	case c == ',':
		kind = KindComma
		l.pos++
		if next := l.peekNonSpace(); next == '}' || next == ']' {
			flags |= FlagTrailingComma
		}
	case c == '"':
		kind = KindString
		if !l.scanString() {
			flags |= FlagUnterminated
		} else if l.peekNonSpace() == ':' {
			flags |= FlagKey
		}
	case c == '-' || isDigit(c):
		kind = KindNumber
		l.scanNumber()
		if _, err := strconv.ParseFloat(string(l.src[start:l.pos]), 64); err != nil {
			flags |= FlagMalformed
		}
	case c == '/' && l.pos+1 < len(l.src) && (l.src[l.pos+1] == '/' || l.src[l.pos+1] == '*'):
		kind = KindComment
		if !l.scanComment() {
			flags |= FlagUnterminated
		}
	case isLetter(c):
		for l.pos < len(l.src) && isLetter(l.src[l.pos]) {
			l.pos++
		}
		switch string(l.src[start:l.pos]) {
		case "true":
			kind = KindTrue
		case "false":
			kind = KindFalse
		case "null":
			kind = KindNull
		default:
			kind = KindInvalid
		}
	default:
		kind = KindInvalid
		l.pos++
	}

	return Token{
		Span:  span.Pack(span.Span{Start: uint32(start), End: uint32(l.pos)}),
		Depth: uint16(min(depth, 0xFFFF)),
		Kind:  kind,
		Flags: flags,
	}, true
}

// Stream returns the remaining tokens as a generator stream.
func (l *Lexer) Stream() stream.Stream[Token] {
	return stream.FromGenerator(func() (Token, bool, error) {
		tok, ok := l.Next()
		return tok, ok, nil
	})
}

// Tokenize lexes all of src.
func Tokenize(src []byte) []Token {
	l := New(src)
	tokens := make([]Token, 0, len(src)/4)
	for tok, ok := l.Next(); ok; tok, ok = l.Next() {
		tokens = append(tokens, tok)
	}
	return tokens
}

func (l *Lexer) skipSpace() {
	for l.pos < len(l.src) && isSpace(l.src[l.pos]) {
		l.pos++
	}
}

func (l *Lexer) peekNonSpace() byte {
	for i := l.pos; i < len(l.src); i++ {
		if !isSpace(l.src[i]) {
			return l.src[i]
		}
	}
	return 0
}

// scanString consumes a string starting at the opening quote. It stops
// before a raw newline, which leaves the string unterminated.
func (l *Lexer) scanString() bool {
	l.pos++
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case '"':
			l.pos++
			return true
		case '\\':
			l.pos += 2
		case '\n':
			return false
		default:
			l.pos++
		}
	}
	l.pos = len(l.src)
	return false
}

func (l *Lexer) scanNumber() {
	l.pos++
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if isDigit(c) || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-' {
			l.pos++
			continue
		}
		break
	}
}

func (l *Lexer) scanComment() bool {
	block := l.src[l.pos+1] == '*'
	l.pos += 2
	if !block {
		for l.pos < len(l.src) && l.src[l.pos] != '\n' {
			l.pos++
		}
		return true
	}
	for l.pos+1 < len(l.src) {
		if l.src[l.pos] == '*' && l.src[l.pos+1] == '/' {
			l.pos += 2
			return true
		}
		l.pos++
	}
	l.pos = len(l.src)
	return false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}
