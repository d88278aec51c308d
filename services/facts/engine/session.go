// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine ties the fact primitives together into per-document
// sessions that load source, answer cached queries and absorb edits
// incrementally.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/factstream/services/facts/atom"
	"github.com/AleutianAI/factstream/services/facts/edit"
	"github.com/AleutianAI/factstream/services/facts/fact"
	"github.com/AleutianAI/factstream/services/facts/lexer"
	"github.com/AleutianAI/factstream/services/facts/query"
	"github.com/AleutianAI/factstream/services/facts/span"
	"github.com/AleutianAI/factstream/services/facts/stream"
	"github.com/AleutianAI/factstream/services/facts/syntax"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Mode selects how a session derives facts.
type Mode uint8

const (
	// ModeLexical tokenizes JSON and re-lexes only the edited region.
	ModeLexical Mode = iota

	// ModeSyntax parses with tree-sitter and re-parses incrementally.
	ModeSyntax
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeSyntax {
		return "syntax"
	}
	return "lexical"
}

// Options configures a Session.
type Options struct {
	// StoreCapacity is the initial fact store capacity.
	StoreCapacity int

	// ArenaCapacity is the initial stream operator pool size.
	ArenaCapacity int

	// Cache configures the query cache.
	Cache []query.CacheOption

	// Atoms configures the atom table.
	Atoms []atom.Option

	// Language switches the session to ModeSyntax. Nil means ModeLexical.
	Language *syntax.Language

	// Logger receives session events. Defaults to slog.Default().
	Logger *slog.Logger
}

// Option configures Options.
type Option func(*Options)

// WithStoreCapacity sets the initial fact store capacity.
func WithStoreCapacity(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.StoreCapacity = n
		}
	}
}

// WithArenaCapacity sets the initial stream operator pool size.
func WithArenaCapacity(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.ArenaCapacity = n
		}
	}
}

// WithCacheOptions appends query cache options.
func WithCacheOptions(opts ...query.CacheOption) Option {
	return func(o *Options) {
		o.Cache = append(o.Cache, opts...)
	}
}

// WithAtomOptions appends atom table options.
func WithAtomOptions(opts ...atom.Option) Option {
	return func(o *Options) {
		o.Atoms = append(o.Atoms, opts...)
	}
}

// WithLanguage parses the document with tree-sitter instead of the lexer.
func WithLanguage(lang *syntax.Language) Option {
	return func(o *Options) {
		o.Language = lang
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// Stats is a snapshot of session state.
type Stats struct {
	ID          string
	Path        string
	Mode        Mode
	SourceBytes int
	Tokens      int
	Facts       int
	Generation  fact.Generation
	Edits       int
	ArenaPeak   int
	Atoms       atom.Stats
	Cache       query.CacheStats
}

// EditResult describes what one edit changed.
type EditResult struct {
	// Edit is the applied edit.
	Edit edit.Edit

	// Generation is the store generation the re-emitted facts belong to.
	Generation fact.Generation

	// Region is the re-derived range in the new source.
	Region span.Span

	// RelexedTokens is the number of tokens lexed again. Zero in syntax
	// mode.
	RelexedTokens int

	// Resynced reports whether re-lexing rejoined the old token stream
	// before the end of the source.
	Resynced bool

	// FactsDropped is the number of stale facts removed from the store.
	FactsDropped int

	// FactsAppended is the number of facts appended for this edit.
	FactsAppended int

	// Invalidated is the number of cache entries removed because their
	// spans overlap the edit.
	Invalidated int
}

// Session holds the derived facts of one document.
//
// Description:
//
//	Load derives facts for a full document. ApplyEdit keeps facts
//	unaffected by an edit, re-projects the ones after it, and re-derives
//	only the edited region. Query answers through a QueryCache that is
//	invalidated by generation and by span overlap.
//
// Thread Safety:
//
//	Safe for concurrent use. One coarse mutex guards the store, cache,
//	arena and source; callers never share the arena across sessions.
type Session struct {
	mu sync.Mutex

	id     string
	path   string
	mode   Mode
	logger *slog.Logger

	src    []byte
	tokens []lexer.Token

	store   *fact.Store
	cache   *query.Cache
	atoms   *atom.Table
	arena   *stream.Arena[lexer.Token]
	lexical *lexer.Emitter
	parser  *syntax.Emitter

	loaded bool
	closed bool
	edits  int
}

// NewSession creates an empty session for the document at path.
func NewSession(path string, opts ...Option) (*Session, error) {
	o := Options{
		StoreCapacity: 1024,
		ArenaCapacity: stream.DefaultArenaCapacity,
		Logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		id:    uuid.NewString(),
		path:  path,
		store: fact.NewStore(o.StoreCapacity),
		cache: query.NewCache(o.Cache...),
		atoms: atom.NewTable(o.Atoms...),
		arena: stream.NewArena[lexer.Token](o.ArenaCapacity),
	}
	s.logger = o.Logger.With(slog.String("session", s.id), slog.String("path", path))
	s.lexical = lexer.NewEmitter(s.atoms)

	if o.Language != nil {
		parser, err := syntax.NewEmitter(o.Language, s.atoms)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", path, err)
		}
		s.mode = ModeSyntax
		s.parser = parser
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Path returns the document path.
func (s *Session) Path() string {
	return s.path
}

// Mode returns how the session derives facts.
func (s *Session) Mode() Mode {
	return s.mode
}

// AtomString returns the text of an atom interned by the session.
func (s *Session) AtomString(id atom.ID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.atoms.String(id)
}

// Load replaces the document content and derives all facts.
//
// Description:
//
//	Both generations advance and the store is cleared before the new
//	facts are appended, so every cached result from earlier content
//	misses afterwards. On error the session keeps its previous content.
func (s *Session) Load(ctx context.Context, src []byte) error {
	ctx, otelSpan := startSessionSpan(ctx, "Session.Load", s)
	defer otelSpan.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	src = bytes.Clone(src)
	var (
		facts  []fact.Fact
		tokens []lexer.Token
		err    error
	)
	switch s.mode {
	case ModeSyntax:
		s.parser.Reset()
		facts, err = s.parser.Emit(ctx, src)
	default:
		tokens, facts, err = s.lexAll(src)
	}
	if err != nil {
		otelSpan.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("loading %s: %w", s.path, err)
	}

	s.store.NextGeneration()
	s.cache.NextGeneration(ctx)
	s.store.Clear()
	if _, err := s.store.AppendBatch(facts); err != nil {
		return fmt.Errorf("loading %s: %w", s.path, err)
	}

	s.src = src
	s.tokens = tokens
	s.loaded = true

	engineLoadsTotal.WithLabelValues(s.mode.String()).Inc()
	engineFactsAppended.Add(float64(len(facts)))
	otelSpan.SetAttributes(
		attribute.Int("session.facts", len(facts)),
		attribute.Int("session.tokens", len(tokens)),
	)
	s.logger.Debug("document loaded",
		slog.Int("bytes", len(src)),
		slog.Int("tokens", len(tokens)),
		slog.Int("facts", len(facts)),
	)
	return nil
}

// lexAll tokenizes src and returns its tokens and facts.
func (s *Session) lexAll(src []byte) ([]lexer.Token, []fact.Fact, error) {
	var (
		tokens []lexer.Token
		facts  []fact.Fact
	)
	ts := lexer.New(src).Stream()
	defer ts.Close()

	err := stream.ForEach(&ts, func(tok lexer.Token) error {
		tokens = append(tokens, tok)
		tf, err := s.lexical.TokenFacts(src, tok)
		if err != nil {
			return err
		}
		facts = append(facts, tf...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	facts = append(facts, s.lexical.ScopeFacts(src, tokens)...)
	return tokens, facts, nil
}

// Query returns the IDs of facts matching q, using the cache when it
// holds a current result.
func (s *Session) Query(ctx context.Context, q query.Query) ([]fact.ID, error) {
	ctx, otelSpan := startSessionSpan(ctx, "Session.Query", s)
	defer otelSpan.End()
	otelSpan.SetAttributes(attribute.String("query", q.String()))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	if ids, ok := s.cache.Get(ctx, q); ok {
		otelSpan.SetAttributes(attribute.Bool("cache.hit", true))
		return ids, nil
	}

	ids := query.Execute(s.store, q)
	s.cache.Put(ctx, q, ids)
	otelSpan.SetAttributes(
		attribute.Bool("cache.hit", false),
		attribute.Int("query.results", len(ids)),
	)
	return ids, nil
}

// Facts returns copies of the facts with the given IDs. IDs that no
// longer exist are skipped.
func (s *Session) Facts(ids []fact.ID) []fact.Fact {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]fact.Fact, 0, len(ids))
	for _, id := range ids {
		if f, ok := s.store.Get(id); ok {
			out = append(out, f)
		}
	}
	return out
}

// AllFacts returns a copy of every stored fact in store order.
func (s *Session) AllFacts() []fact.Fact {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]fact.Fact(nil), s.store.Facts()...)
}

// Tokens returns lexer tokens through the session arena's combinators.
//
// Description:
//
//	keep filters tokens (nil keeps all), skip drops that many matches and
//	limit caps the result (zero means no cap). The arena is rotated first,
//	so no stream built by an earlier call survives. Always empty in
//	syntax mode.
func (s *Session) Tokens(keep func(lexer.Token) bool, skip, limit int) ([]lexer.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	s.arena.Rotate()
	ts := stream.FromSlice(s.tokens)
	if keep != nil {
		ts = s.arena.Filter(ts, keep)
	}
	if skip > 0 {
		ts = s.arena.Drop(ts, skip)
	}
	if limit > 0 {
		ts = s.arena.Take(ts, limit)
	}
	defer ts.Close()

	out, err := stream.Collect(&ts, 0)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []lexer.Token{}
	}
	return out, nil
}

// ApplyEdit applies e to the document and updates facts incrementally.
//
// Description:
//
//	Follows the re-tokenization protocol: spans kept past the edit are
//	adjusted with e.AdjustSpan, cache entries overlapping e.Span are
//	invalidated, the store and cache generations advance together, and
//	only facts for the affected region are derived again. Facts made
//	stale by the edit are removed from the store.
//
// Outputs:
//
//	EditResult - What changed.
//	error - ErrNotLoaded, ErrSessionClosed, edit.ErrEditOutOfRange or a
//	    derivation error. On error the session is unchanged.
func (s *Session) ApplyEdit(ctx context.Context, e edit.Edit) (EditResult, error) {
	ctx, otelSpan := startSessionSpan(ctx, "Session.ApplyEdit", s)
	defer otelSpan.End()
	otelSpan.SetAttributes(attribute.String("edit", e.String()))

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.applyLocked(ctx, e)
	if err != nil {
		engineEditsTotal.WithLabelValues(s.mode.String(), outcomeError).Inc()
		otelSpan.SetStatus(codes.Error, err.Error())
		return EditResult{}, err
	}

	engineEditsTotal.WithLabelValues(s.mode.String(), outcomeOK).Inc()
	otelSpan.SetAttributes(
		attribute.Int("edit.relexed_tokens", res.RelexedTokens),
		attribute.Int("edit.facts_dropped", res.FactsDropped),
		attribute.Int("edit.facts_appended", res.FactsAppended),
		attribute.Int("edit.invalidated", res.Invalidated),
	)
	return res, nil
}

// ApplySequence applies the edits of seq in list order. Each edit's
// positions refer to the text produced by the edits before it.
//
// Application stops at the first failing edit; earlier edits stay applied.
func (s *Session) ApplySequence(ctx context.Context, seq *edit.Sequence) ([]EditResult, error) {
	results := make([]EditResult, 0, seq.Len())
	for i, e := range seq.Edits() {
		res, err := s.ApplyEdit(ctx, e)
		if err != nil {
			return results, fmt.Errorf("edit %d of %d: %w", i+1, seq.Len(), err)
		}
		results = append(results, res)
	}
	return results, nil
}

// ApplyPatch applies a single-file unified diff to the document.
func (s *Session) ApplyPatch(ctx context.Context, patch []byte) ([]EditResult, error) {
	seq, err := edit.FromUnifiedDiff(s.Source(), patch)
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", s.path, err)
	}
	// Edits arrive in descending position order, so applying them one by
	// one never shifts a later edit.
	return s.ApplySequence(ctx, seq)
}

// Update brings the document to newSrc through the minimal edits between
// the current content and newSrc.
func (s *Session) Update(ctx context.Context, newSrc []byte) ([]EditResult, error) {
	seq := edit.FromTexts(s.Source(), newSrc)
	if seq.Len() == 0 {
		return nil, nil
	}
	return s.ApplySequence(ctx, seq)
}

func (s *Session) applyLocked(ctx context.Context, e edit.Edit) (EditResult, error) {
	if s.closed {
		return EditResult{}, ErrSessionClosed
	}
	if !s.loaded {
		return EditResult{}, ErrNotLoaded
	}

	newSrc, err := edit.ApplyEdits(s.src, []edit.Edit{e})
	if err != nil {
		return EditResult{}, fmt.Errorf("applying %s: %w", e, err)
	}

	var res EditResult
	switch s.mode {
	case ModeSyntax:
		res, err = s.reparse(ctx, e, newSrc)
	default:
		res, err = s.relex(ctx, e, newSrc)
	}
	if err != nil {
		return EditResult{}, err
	}

	s.src = newSrc
	s.edits++
	res.Edit = e
	res.Generation = s.store.Generation()
	engineFactsAppended.Add(float64(res.FactsAppended))
	engineFactsDropped.Add(float64(res.FactsDropped))

	s.logger.Debug("edit applied",
		slog.String("edit", e.String()),
		slog.String("region", res.Region.String()),
		slog.Int("relexed_tokens", res.RelexedTokens),
		slog.Bool("resynced", res.Resynced),
		slog.Int("facts_dropped", res.FactsDropped),
		slog.Int("facts_appended", res.FactsAppended),
	)
	return res, nil
}

// advance runs the invalidation half of the edit protocol.
func (s *Session) advance(ctx context.Context, e edit.Edit) int {
	invalidated := s.cache.InvalidateSpan(ctx, e.Span)
	s.store.NextGeneration()
	s.cache.NextGeneration(ctx)
	return invalidated
}

// Compact removes facts below minConfidence and returns how many were
// removed. Cached results are invalidated when anything is removed.
func (s *Session) Compact(ctx context.Context, minConfidence float32) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.store.Compact(minConfidence)
	if n > 0 {
		s.store.NextGeneration()
		s.cache.NextGeneration(ctx)
		engineFactsDropped.Add(float64(n))
		s.logger.Debug("store compacted",
			slog.Float64("min_confidence", float64(minConfidence)),
			slog.Int("removed", n),
		)
	}
	return n
}

// Source returns a copy of the current document content.
func (s *Session) Source() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return bytes.Clone(s.src)
}

// Stats returns a snapshot of session state.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		ID:          s.id,
		Path:        s.path,
		Mode:        s.mode,
		SourceBytes: len(s.src),
		Tokens:      len(s.tokens),
		Facts:       s.store.Count(),
		Generation:  s.store.Generation(),
		Edits:       s.edits,
		ArenaPeak:   s.arena.Peak(),
		Atoms:       s.atoms.Stats(),
		Cache:       s.cache.Stats(),
	}
}

// Close releases parser resources. The session is unusable afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.parser != nil {
		s.parser.Close()
	}
	s.cache.Clear()
}
