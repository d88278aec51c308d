// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/AleutianAI/factstream/services/facts/edit"
	"github.com/AleutianAI/factstream/services/facts/fact"
	"github.com/AleutianAI/factstream/services/facts/lexer"
	"github.com/AleutianAI/factstream/services/facts/span"
	"github.com/AleutianAI/factstream/services/facts/stream"
)

// errResynced stops the relex stream once it rejoins the old tokens.
var errResynced = errors.New("resynced")

// relex re-tokenizes the region touched by e.
//
// Description:
//
//	Lexing restarts one token before the first token reaching the edit,
//	because key and trailing-comma flags look one token ahead. It stops as
//	soon as a token past the inserted text equals an old token shifted by
//	the edit: from there the lexer state and the remaining input are the
//	same, so the rest of the old tokens and their facts are reused after
//	being moved with e.AdjustSpan. Scope facts are derived again over the
//	whole token list since any bracket change can re-pair the rest.
func (s *Session) relex(ctx context.Context, e edit.Edit, newSrc []byte) (EditResult, error) {
	old := s.tokens

	i := sort.Search(len(old), func(k int) bool { return old[k].End() >= e.Span.Start })
	j := max(i-1, 0)
	start, depth := e.Span.Start, 0
	if j < len(old) && old[j].Start() <= start {
		start, depth = old[j].Start(), old[j].DepthBefore()
	}

	tail := sort.Search(len(old), func(k int) bool { return old[k].Start() >= e.Span.End })
	insertedEnd := e.ResultSpan().End

	var relexed []lexer.Token
	resync := -1
	p := tail
	ts := lexer.LexFrom(newSrc, int(start), depth).Stream()
	err := stream.ForEach(&ts, func(tok lexer.Token) error {
		if tok.Start() >= insertedEnd {
			for p < len(old) && e.AdjustSpan(old[p].Span.Unpack()).Start < tok.Start() {
				p++
			}
			if p < len(old) && adjustToken(e, old[p]) == tok {
				resync = p
				return errResynced
			}
		}
		relexed = append(relexed, tok)
		return nil
	})
	ts.Close()
	if err != nil && !errors.Is(err, errResynced) {
		return EditResult{}, fmt.Errorf("relexing %s: %w", e, err)
	}

	tokens := make([]lexer.Token, 0, j+len(relexed)+len(old)-tail)
	tokens = append(tokens, old[:j]...)
	tokens = append(tokens, relexed...)

	res := EditResult{RelexedTokens: len(relexed)}
	regionEnd := uint32(len(newSrc))

	// Facts of reused tail tokens, moved to their new positions.
	var moved []fact.Fact
	if resync >= 0 {
		res.Resynced = true
		oldTailStart := old[resync].Start()
		for _, tok := range old[resync:] {
			tokens = append(tokens, adjustToken(e, tok))
		}
		regionEnd = tokens[j+len(relexed)].Start()
		for f := range s.store.All() {
			if lexer.IsScopePredicate(f.Predicate()) || f.Subject().Start < oldTailStart {
				continue
			}
			moved = append(moved, f.WithSubject(e.AdjustSpan(f.Subject())))
		}
		engineResyncTotal.WithLabelValues(resyncMatched).Inc()
	} else {
		engineResyncTotal.WithLabelValues(resyncEOF).Inc()
	}
	engineRelexedTokens.Observe(float64(len(relexed)))
	res.Region = span.New(start, regionEnd)

	batch := make([]fact.Fact, 0, len(relexed)*4+len(moved))
	for _, tok := range relexed {
		tf, err := s.lexical.TokenFacts(newSrc, tok)
		if err != nil {
			return EditResult{}, err
		}
		batch = append(batch, tf...)
	}
	batch = append(batch, moved...)
	batch = append(batch, s.lexical.ScopeFacts(newSrc, tokens)...)

	res.Invalidated = s.advance(ctx, e)
	res.FactsDropped = s.store.Retain(func(f fact.Fact) bool {
		return !lexer.IsScopePredicate(f.Predicate()) && f.Subject().End <= start
	})
	if _, err := s.store.AppendBatch(batch); err != nil {
		return EditResult{}, err
	}
	res.FactsAppended = len(batch)

	s.tokens = tokens
	return res, nil
}

func adjustToken(e edit.Edit, tok lexer.Token) lexer.Token {
	tok.Span = e.AdjustSpan(tok.Span.Unpack()).Pack()
	return tok
}

// reparse re-derives syntax facts after e.
//
// Description:
//
//	The previous tree is edited so tree-sitter re-parses incrementally.
//	Facts ending before e.Span.Start are kept as they are; everything
//	ending at or after it is derived again from the new tree, which covers
//	every node the edit could have moved or changed.
func (s *Session) reparse(ctx context.Context, e edit.Edit, newSrc []byte) (EditResult, error) {
	cut := e.Span.Start
	s.parser.Edit(e, s.src)
	facts, err := s.parser.EmitFrom(ctx, newSrc, cut)
	if err != nil {
		// The tree no longer matches the kept source; start over next time.
		s.parser.Reset()
		return EditResult{}, fmt.Errorf("reparsing %s: %w", e, err)
	}

	res := EditResult{Region: span.New(cut, uint32(len(newSrc)))}
	res.Invalidated = s.advance(ctx, e)
	res.FactsDropped = s.store.Retain(func(f fact.Fact) bool {
		return f.Subject().End < cut
	})
	if _, err := s.store.AppendBatch(facts); err != nil {
		return EditResult{}, err
	}
	res.FactsAppended = len(facts)
	return res, nil
}
