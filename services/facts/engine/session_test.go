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
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/AleutianAI/factstream/services/facts/atom"
	"github.com/AleutianAI/factstream/services/facts/edit"
	"github.com/AleutianAI/factstream/services/facts/fact"
	"github.com/AleutianAI/factstream/services/facts/lexer"
	"github.com/AleutianAI/factstream/services/facts/query"
	"github.com/AleutianAI/factstream/services/facts/span"
	"github.com/AleutianAI/factstream/services/facts/syntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const doc = `{"name": "factstream", "tags": ["a", "b"], "n": 42, "nested": {"ok": true}}`

func loadSession(t *testing.T, src string, opts ...Option) *Session {
	t.Helper()
	s, err := NewSession("doc.json", opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Load(context.Background(), []byte(src)))
	return s
}

// factKeys renders facts without IDs, resolving atom objects to their
// text so sessions with different atom tables compare equal.
func factKeys(t *testing.T, s *Session) []string {
	t.Helper()
	var keys []string
	for _, f := range s.AllFacts() {
		obj := fmt.Sprint(f.Object().Raw())
		switch f.Predicate() {
		case fact.HasText, fact.HasName, fact.IsNode:
			n, _ := f.Number()
			text, ok := s.AtomString(atom.ID(n))
			require.True(t, ok, "missing atom for %s", f)
			obj = text
		}
		keys = append(keys, fmt.Sprintf("%s %s %s %.3f", f.Predicate(), f.Subject(), obj, f.Confidence()))
	}
	sort.Strings(keys)
	return keys
}

func allTokens(t *testing.T, s *Session) []lexer.Token {
	t.Helper()
	tokens, err := s.Tokens(nil, 0, 0)
	require.NoError(t, err)
	return tokens
}

func at(src, needle string) uint32 {
	i := strings.Index(src, needle)
	if i < 0 {
		panic("needle not found: " + needle)
	}
	return uint32(i)
}

func TestSession_LoadAndQuery(t *testing.T) {
	s := loadSession(t, doc)
	ctx := context.Background()

	ids, err := s.Query(ctx, query.ByPredicate(fact.IsKey))
	require.NoError(t, err)
	require.Len(t, ids, 5)

	var keys []string
	for _, f := range s.Facts(ids) {
		keys = append(keys, doc[f.Subject().Start:f.Subject().End])
	}
	assert.Equal(t, []string{`"name"`, `"tags"`, `"n"`, `"nested"`, `"ok"`}, keys)

	again, err := s.Query(ctx, query.ByPredicate(fact.IsKey))
	require.NoError(t, err)
	assert.Equal(t, ids, again)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Cache.Hits)
	assert.Equal(t, int64(1), stats.Cache.Misses)
	assert.Equal(t, ModeLexical, stats.Mode)
	assert.Equal(t, len(doc), stats.SourceBytes)
	assert.NotEmpty(t, s.ID())
}

func TestSession_QueryCanceled(t *testing.T) {
	s := loadSession(t, doc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Query(ctx, query.ByPredicate(fact.IsKey))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSession_ApplyEdit_MatchesFullLoad(t *testing.T) {
	tests := []struct {
		name string
		src  string
		edit func(src string) edit.Edit
	}{
		{
			name: "grow number",
			src:  doc,
			edit: func(src string) edit.Edit { return edit.Replace(span.New(at(src, "42"), at(src, "42")+2), []byte("4242")) },
		},
		{
			name: "insert member",
			src:  doc,
			edit: func(string) edit.Edit { return edit.Insert(1, []byte(`"x": 1, `)) },
		},
		{
			name: "delete bracket",
			src:  doc,
			edit: func(src string) edit.Edit { return edit.Delete(span.At(at(src, "["))) },
		},
		{
			name: "open quote swallows rest",
			src:  doc,
			edit: func(src string) edit.Edit { return edit.Insert(at(src, "42"), []byte(`"`)) },
		},
		{
			name: "append at end",
			src:  doc,
			edit: func(src string) edit.Edit { return edit.Insert(uint32(len(src)), []byte("\n// done")) },
		},
		{
			name: "prepend whitespace",
			src:  doc,
			edit: func(string) edit.Edit { return edit.Insert(0, []byte("  \n")) },
		},
		{
			name: "replace everything",
			src:  doc,
			edit: func(src string) edit.Edit { return edit.Replace(span.New(0, uint32(len(src))), []byte(`[1, 2]`)) },
		},
		{
			name: "colon turns value into key",
			src:  `{"a" 1}`,
			edit: func(string) edit.Edit { return edit.Insert(4, []byte(":")) },
		},
		{
			name: "comma becomes trailing",
			src:  `[1, 2]`,
			edit: func(string) edit.Edit { return edit.Delete(span.New(4, 5)) },
		},
		{
			name: "multiline fold appears",
			src:  `{"a": [1, 2]}`,
			edit: func(string) edit.Edit { return edit.Insert(7, []byte("\n")) },
		},
		{
			name: "edit empty document",
			src:  ``,
			edit: func(string) edit.Edit { return edit.Insert(0, []byte(`{"k": null}`)) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := loadSession(t, tt.src)
			before := s.Stats().Facts
			e := tt.edit(tt.src)

			res, err := s.ApplyEdit(context.Background(), e)
			require.NoError(t, err)

			want, err := edit.ApplyEdits([]byte(tt.src), []edit.Edit{e})
			require.NoError(t, err)
			require.Equal(t, string(want), string(s.Source()))

			fresh := loadSession(t, string(want))
			assert.Equal(t, allTokens(t, fresh), allTokens(t, s))
			assert.Equal(t, factKeys(t, fresh), factKeys(t, s))
			assert.Equal(t, before+res.FactsAppended-res.FactsDropped, s.Stats().Facts)
		})
	}
}

func TestSession_ApplyEdit_Resyncs(t *testing.T) {
	var b strings.Builder
	b.WriteString("[")
	for i := range 200 {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, `{"id": %d, "label": "item%d"}`, i, i)
	}
	b.WriteString("]")
	src := b.String()

	s := loadSession(t, src)
	before := s.Stats()
	pos := at(src, `"item100"`) + 1
	res, err := s.ApplyEdit(context.Background(), edit.Replace(span.New(pos, pos+4), []byte("entry")))
	require.NoError(t, err)

	assert.True(t, res.Resynced)
	assert.LessOrEqual(t, res.RelexedTokens, 3)
	assert.Equal(t, before.Tokens, s.Stats().Tokens)
	assert.Equal(t, before.Generation+1, res.Generation)
	assert.Less(t, res.Region.End, uint32(len(src)))

	fresh := loadSession(t, string(s.Source()))
	assert.Equal(t, factKeys(t, fresh), factKeys(t, s))
}

func TestSession_ApplyEdit_CacheProtocol(t *testing.T) {
	s := loadSession(t, doc)
	ctx := context.Background()
	nameQuery := query.Overlapping(span.New(0, 8))
	numberQuery := query.And(query.ByPredicate(fact.IsNumber), query.Overlapping(span.New(at(doc, "42"), at(doc, "42")+2)))

	_, err := s.Query(ctx, nameQuery)
	require.NoError(t, err)
	ids, err := s.Query(ctx, numberQuery)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	res, err := s.ApplyEdit(ctx, edit.Replace(span.New(at(doc, "42"), at(doc, "42")+2), []byte("7")))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Invalidated, "only the overlapping entry is removed by span")

	stats := s.Stats().Cache
	assert.Equal(t, 0, stats.EntryCount, "generation bump purges the rest")

	_, err = s.Query(ctx, nameQuery)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Stats().Cache.Misses)

	ids, err = s.Query(ctx, query.ByPredicate(fact.IsNumber))
	require.NoError(t, err)
	require.Len(t, ids, 1)
	f := s.Facts(ids)[0]
	assert.Equal(t, "7", string(s.Source()[f.Subject().Start:f.Subject().End]))
}

func TestSession_ApplyEdit_Errors(t *testing.T) {
	ctx := context.Background()

	s, err := NewSession("empty.json")
	require.NoError(t, err)
	defer s.Close()
	_, err = s.ApplyEdit(ctx, edit.Insert(0, []byte("x")))
	assert.ErrorIs(t, err, ErrNotLoaded)

	s = loadSession(t, doc)
	before := factKeys(t, s)
	_, err = s.ApplyEdit(ctx, edit.Delete(span.New(10, uint32(len(doc)+5))))
	assert.ErrorIs(t, err, edit.ErrEditOutOfRange)
	assert.Equal(t, doc, string(s.Source()))
	assert.Equal(t, before, factKeys(t, s))

	s.Close()
	_, err = s.ApplyEdit(ctx, edit.Insert(0, []byte(" ")))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.Load(ctx, []byte("[]")), ErrSessionClosed)
}

func TestSession_ApplySequence(t *testing.T) {
	s := loadSession(t, `[1, 2, 3]`)
	seq := edit.NewSequence(
		edit.Insert(1, []byte("0, ")),
		edit.Replace(span.New(7, 8), []byte("20")),
	)
	results, err := s.ApplySequence(context.Background(), seq)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, `[0, 1, 20, 3]`, string(s.Source()))
	assert.Greater(t, results[1].Generation, results[0].Generation)

	fresh := loadSession(t, `[0, 1, 20, 3]`)
	assert.Equal(t, factKeys(t, fresh), factKeys(t, s))
}

func TestSession_ApplyPatch(t *testing.T) {
	src := "{\n  \"a\": 1,\n  \"b\": 2\n}\n"
	patch := `--- a/doc.json
+++ b/doc.json
@@ -1,4 +1,5 @@
 {
   "a": 1,
-  "b": 2
+  "b": 3,
+  "c": [4]
 }
`
	s := loadSession(t, src)
	results, err := s.ApplyPatch(context.Background(), []byte(patch))
	require.NoError(t, err)
	require.Len(t, results, 1)

	want := "{\n  \"a\": 1,\n  \"b\": 3,\n  \"c\": [4]\n}\n"
	assert.Equal(t, want, string(s.Source()))
	fresh := loadSession(t, want)
	assert.Equal(t, factKeys(t, fresh), factKeys(t, s))

	_, err = s.ApplyPatch(context.Background(), []byte(patch))
	assert.ErrorIs(t, err, edit.ErrPatchMismatch)
}

func TestSession_Update(t *testing.T) {
	s := loadSession(t, doc)
	updated := strings.Replace(doc, `"b"`, `"beta", "c"`, 1)

	results, err := s.Update(context.Background(), []byte(updated))
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, updated, string(s.Source()))

	fresh := loadSession(t, updated)
	assert.Equal(t, factKeys(t, fresh), factKeys(t, s))

	results, err = s.Update(context.Background(), []byte(updated))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSession_Tokens(t *testing.T) {
	s := loadSession(t, doc)
	strs, err := s.Tokens(func(tok lexer.Token) bool { return tok.Kind == lexer.KindString }, 1, 2)
	require.NoError(t, err)
	require.Len(t, strs, 2)
	src := s.Source()
	assert.Equal(t, `"factstream"`, string(strs[0].Text(src)))
	assert.Equal(t, `"tags"`, string(strs[1].Text(src)))

	none, err := s.Tokens(func(lexer.Token) bool { return false }, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Positive(t, s.Stats().ArenaPeak)
}

func TestSession_Compact(t *testing.T) {
	s := loadSession(t, `[1.2.3, 4]`)
	ctx := context.Background()
	_, err := s.Query(ctx, query.ByCategory(fact.CategoryDiagnostic))
	require.NoError(t, err)

	before := s.Stats()
	removed := s.Compact(ctx, 0.95)
	assert.Equal(t, 1, removed, "the malformed-number error has confidence 0.9")
	after := s.Stats()
	assert.Equal(t, before.Facts-1, after.Facts)
	assert.Equal(t, before.Generation+1, after.Generation)
	assert.Equal(t, 0, after.Cache.EntryCount)

	assert.Zero(t, s.Compact(ctx, 0.95))
}

const goDoc = `package main

func add(a, b int) int {
	return a + b
}

func main() {
	println(add(1, 2))
}
`

func TestSession_SyntaxMode(t *testing.T) {
	ctx := context.Background()
	s := loadSession(t, goDoc, WithLanguage(syntax.Go()))
	assert.Equal(t, ModeSyntax, s.Mode())

	ids, err := s.Query(ctx, query.ByPredicate(fact.IsFunction))
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	pos := at(goDoc, "add(a")
	res, err := s.ApplyEdit(ctx, edit.Replace(span.New(pos, pos+3), []byte("sum")))
	require.NoError(t, err)
	assert.Zero(t, res.RelexedTokens)
	assert.Equal(t, pos, res.Region.Start)

	updated := string(s.Source())
	assert.Contains(t, updated, "func sum(a, b int)")

	fresh := loadSession(t, updated, WithLanguage(syntax.Go()))
	assert.Equal(t, factKeys(t, fresh), factKeys(t, s))
	assert.Empty(t, allTokens(t, s))
}

func TestSession_LoadKeepsContentOnError(t *testing.T) {
	s := loadSession(t, goDoc, WithLanguage(syntax.Go()))
	before := factKeys(t, s)

	err := s.Load(context.Background(), []byte{0xff, 0xfe, 0xfd})
	require.ErrorIs(t, err, syntax.ErrInvalidContent)
	assert.Equal(t, goDoc, string(s.Source()))
	assert.Equal(t, before, factKeys(t, s))
	assert.True(t, bytes.Equal([]byte(goDoc), s.Source()))
}
