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
	"bytes"
	"fmt"

	"github.com/AleutianAI/factstream/services/facts/atom"
	"github.com/AleutianAI/factstream/services/facts/fact"
	"github.com/AleutianAI/factstream/services/facts/span"
)

// Emitter converts tokens into facts.
//
// Description:
//
//	TokenFacts describes one token: its kind, depth, text atom, key/value
//	role and any diagnostics. ScopeFacts describes the structure of a full
//	token list: one IsScope fact per matched bracket pair, plus IsFoldable
//	for pairs spanning more than one line.
//
// Ownership:
//
//	Slices returned by TokenFacts and ScopeFacts are reused by the next
//	call on the same Emitter. Copy or append them to a store first.
//
// Thread Safety:
//
//	Not safe for concurrent use.
type Emitter struct {
	atoms *atom.Table
	buf   []fact.Fact
	stack []Token
}

// NewEmitter creates an emitter interning token text into atoms.
func NewEmitter(atoms *atom.Table) *Emitter {
	return &Emitter{atoms: atoms, buf: make([]fact.Fact, 0, 8)}
}

// IsScopePredicate reports whether p is derived by ScopeFacts.
func IsScopePredicate(p fact.Predicate) bool {
	return p == fact.IsScope || p == fact.IsFoldable
}

// TokenFacts returns the facts describing tok.
func (e *Emitter) TokenFacts(src []byte, tok Token) ([]fact.Fact, error) {
	e.buf = e.buf[:0]
	subj := tok.Span.Unpack()

	add := func(f fact.Fact, err error) error {
		if err != nil {
			return fmt.Errorf("token %s: %w", tok, err)
		}
		e.buf = append(e.buf, f)
		return nil
	}

	if err := add(fact.WithNumber(fact.IsToken, subj, int64(tok.Kind), 1)); err != nil {
		return nil, err
	}
	if err := add(fact.WithNumber(fact.HasDepth, subj, int64(tok.Depth), 1)); err != nil {
		return nil, err
	}

	var err error
	switch tok.Kind {
	case KindLBrace, KindRBrace, KindLBracket, KindRBracket:
		err = add(fact.Certain(fact.IsDelimiter, subj))
	case KindColon, KindComma:
		err = add(fact.Certain(fact.IsOperator, subj))
	case KindString:
		err = add(fact.Certain(fact.IsString, subj))
	case KindNumber:
		err = add(fact.Certain(fact.IsNumber, subj))
	case KindTrue:
		err = add(fact.WithNumber(fact.IsBoolean, subj, 1, 1))
	case KindFalse:
		err = add(fact.WithNumber(fact.IsBoolean, subj, 0, 1))
	case KindNull:
		err = add(fact.Certain(fact.IsNull, subj))
	case KindComment:
		err = add(fact.Certain(fact.IsComment, subj))
	case KindInvalid:
		text := tok.Text(src)
		if len(text) == 1 {
			err = add(fact.WithNumber(fact.IsInvalidByte, subj, int64(text[0]), 1))
		} else {
			err = add(fact.Certain(fact.IsError, subj))
		}
	}
	if err != nil {
		return nil, err
	}

	if tok.Kind == KindString || tok.Kind == KindNumber {
		id, err := e.atoms.Intern(tok.Text(src))
		if err != nil {
			return nil, fmt.Errorf("interning %s: %w", tok, err)
		}
		if err := add(fact.WithNumber(fact.HasText, subj, int64(id), 1)); err != nil {
			return nil, err
		}
	}

	switch {
	case tok.Flags.Has(FlagKey):
		err = add(fact.Certain(fact.IsKey, subj))
	case tok.Kind.IsScalar():
		err = add(fact.Certain(fact.IsValue, subj))
	}
	if err != nil {
		return nil, err
	}

	if tok.Flags.Has(FlagUnterminated) {
		if err := add(fact.Certain(fact.IsUnterminated, subj)); err != nil {
			return nil, err
		}
	}
	if tok.Flags.Has(FlagTrailingComma) {
		if err := add(fact.Certain(fact.HasTrailingComma, subj)); err != nil {
			return nil, err
		}
	}
	if tok.Flags.Has(FlagMalformed) || tok.Flags.Has(FlagUnbalanced) {
		if err := add(fact.Simple(fact.IsError, subj, 0.9)); err != nil {
			return nil, err
		}
	}
	return e.buf, nil
}

// ScopeFacts returns IsScope and IsFoldable facts for every matched
// bracket pair in tokens. Unmatched brackets produce no scope.
func (e *Emitter) ScopeFacts(src []byte, tokens []Token) []fact.Fact {
	e.buf = e.buf[:0]
	e.stack = e.stack[:0]
	for _, tok := range tokens {
		switch {
		case tok.Kind.IsOpen():
			e.stack = append(e.stack, tok)
		case tok.Kind.IsClose() && len(e.stack) > 0:
			open := e.stack[len(e.stack)-1]
			if !matches(open.Kind, tok.Kind) {
				continue
			}
			e.stack = e.stack[:len(e.stack)-1]
			subj := open.Span.Unpack()
			extent := span.New(open.Start(), tok.End())
			e.buf = append(e.buf, fact.Must(fact.WithSpan(fact.IsScope, subj, extent, 1)))
			if int(extent.End) <= len(src) && bytes.IndexByte(src[extent.Start:extent.End], '\n') >= 0 {
				e.buf = append(e.buf, fact.Must(fact.WithSpan(fact.IsFoldable, subj, extent, 1)))
			}
		}
	}
	return e.buf
}

func matches(opening, closing Kind) bool {
	return (opening == KindLBrace && closing == KindRBrace) || (opening == KindLBracket && closing == KindRBracket)
}
