// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syntax

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/factstream/services/facts/atom"
	"github.com/AleutianAI/factstream/services/facts/edit"
	"github.com/AleutianAI/factstream/services/facts/fact"
	"github.com/AleutianAI/factstream/services/facts/span"
	sitter "github.com/smacker/go-tree-sitter"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultMaxFileSize is the default content limit (10MB).
const DefaultMaxFileSize = 10 * 1024 * 1024

// missingConfidence is the confidence of errors reported for nodes the
// parser inserted to recover.
const missingConfidence = 0.5

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithMaxFileSize sets the content size limit in bytes.
func WithMaxFileSize(n int) EmitterOption {
	return func(e *Emitter) {
		if n > 0 {
			e.maxFileSize = n
		}
	}
}

// Emitter parses source with tree-sitter and derives syntactic facts.
//
// Description:
//
//	Emit parses the content and returns facts for every node matched by a
//	language rule, plus diagnostics for ERROR and MISSING nodes. After
//	Edit, the next Emit reuses the previous tree so tree-sitter only
//	re-parses the edited region.
//
// Thread Safety:
//
//	Not safe for concurrent use. tree-sitter parsers hold per-parse state.
//
// Limitations:
//
//	EmitFrom assumes facts ending before the cut-off did not change. Error
//	recovery can occasionally reshape earlier nodes; callers needing exact
//	results should call Emit.
type Emitter struct {
	lang        *Language
	atoms       *atom.Table
	parser      *sitter.Parser
	tree        *sitter.Tree
	edited      bool
	from        uint32
	maxFileSize int
	buf         []fact.Fact
	closed      bool
}

// NewEmitter creates an emitter for lang interning names into atoms.
func NewEmitter(lang *Language, atoms *atom.Table, opts ...EmitterOption) (*Emitter, error) {
	if lang == nil || lang.grammar == nil {
		return nil, ErrUnsupportedLanguage
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang.grammar)

	e := &Emitter{
		lang:        lang,
		atoms:       atoms,
		parser:      parser,
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Language returns the emitter's language.
func (e *Emitter) Language() *Language {
	return e.lang
}

// Emit parses src and returns all syntactic facts.
//
// Ownership:
//
//	The returned slice is reused by the next Emit or EmitFrom call.
func (e *Emitter) Emit(ctx context.Context, src []byte) ([]fact.Fact, error) {
	return e.EmitFrom(ctx, src, 0)
}

// EmitFrom parses src and returns only facts whose subject ends at or after
// from. Subtrees ending before from are skipped without being visited.
func (e *Emitter) EmitFrom(ctx context.Context, src []byte, from uint32) ([]fact.Fact, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if len(src) > e.maxFileSize {
		slog.Warn("skipping oversized file",
			slog.String("language", e.lang.Name),
			slog.Int("size", len(src)),
			slog.Int("max_size", e.maxFileSize),
		)
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, len(src), e.maxFileSize)
	}
	if !utf8.Valid(src) {
		return nil, fmt.Errorf("%w: not valid UTF-8", ErrInvalidContent)
	}

	incremental := e.edited && e.tree != nil
	ctx, otelSpan := startParseSpan(ctx, e.lang.Name, len(src), incremental)
	defer otelSpan.End()
	start := time.Now()

	var old *sitter.Tree
	if incremental {
		old = e.tree
	}
	tree, err := e.parser.ParseCtx(ctx, old, src)
	if err != nil || tree == nil {
		recordParseMetrics(ctx, e.lang.Name, time.Since(start), 0, incremental, false)
		otelSpan.SetStatus(codes.Error, "parse failed")
		if err == nil {
			return nil, ErrParseFailed
		}
		return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
	}
	if e.tree != nil {
		e.tree.Close()
	}
	e.tree = tree
	e.edited = false

	e.buf = e.buf[:0]
	e.from = from
	if err := e.walk(ctx, tree.RootNode(), src); err != nil {
		recordParseMetrics(ctx, e.lang.Name, time.Since(start), 0, incremental, false)
		otelSpan.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	recordParseMetrics(ctx, e.lang.Name, time.Since(start), len(e.buf), incremental, true)
	otelSpan.SetAttributes(
		attribute.Int("syntax.fact_count", len(e.buf)),
		attribute.Bool("syntax.has_errors", tree.RootNode().HasError()),
	)
	return e.buf, nil
}

// walk visits nodes depth-first with an explicit stack.
func (e *Emitter) walk(ctx context.Context, root *sitter.Node, src []byte) error {
	stack := []*sitter.Node{root}
	visited := 0
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == nil || node.EndByte() < e.from {
			continue
		}

		visited++
		if visited%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		if err := e.nodeFacts(node, src); err != nil {
			return err
		}

		for i := int(node.ChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, node.Child(i))
		}
	}
	return nil
}

func (e *Emitter) nodeFacts(node *sitter.Node, src []byte) error {
	subj := span.New(node.StartByte(), node.EndByte())

	switch {
	case node.Type() == "ERROR":
		return e.add(fact.Certain(fact.IsError, subj))
	case node.IsMissing():
		return e.add(fact.Simple(fact.IsError, subj, missingConfidence))
	}

	rule, ok := e.lang.Rules[node.Type()]
	if !ok {
		return nil
	}

	typeID, err := e.atoms.InternString(node.Type())
	if err != nil {
		return fmt.Errorf("interning node type %q: %w", node.Type(), err)
	}
	if err := e.add(fact.WithNumber(fact.IsNode, subj, int64(typeID), 1)); err != nil {
		return err
	}
	if err := e.add(fact.Certain(rule.Predicate, subj)); err != nil {
		return err
	}

	if rule.NameField == "" {
		return nil
	}
	name := node.ChildByFieldName(rule.NameField)
	if name == nil {
		return nil
	}
	text := bytes.Trim(src[name.StartByte():name.EndByte()], "\"'`")
	nameID, err := e.atoms.Intern(text)
	if err != nil {
		return fmt.Errorf("interning name %q: %w", text, err)
	}
	if err := e.add(fact.WithNumber(fact.HasName, subj, int64(nameID), 1)); err != nil {
		return err
	}

	nameSpan := span.New(name.StartByte(), name.EndByte())
	if err := e.add(fact.Certain(fact.IsIdentifier, nameSpan)); err != nil {
		return err
	}
	if rule.Definition {
		return e.add(fact.Certain(fact.IsDefinition, nameSpan))
	}
	return nil
}

func (e *Emitter) add(f fact.Fact, err error) error {
	if err != nil {
		return err
	}
	if f.Subject().End < e.from {
		return nil
	}
	e.buf = append(e.buf, f)
	return nil
}

// Edit records ed against the previous tree so the next Emit parses
// incrementally. oldSrc is the content the previous tree was parsed from.
func (e *Emitter) Edit(ed edit.Edit, oldSrc []byte) {
	if e.closed || e.tree == nil {
		return
	}

	start := ed.Span.Start
	oldEnd := ed.Span.End
	if int(oldEnd) > len(oldSrc) {
		oldEnd = uint32(len(oldSrc))
	}
	if start > oldEnd {
		start = oldEnd
	}
	startPoint := pointAt(oldSrc, start)
	oldEndPoint := pointAt(oldSrc, oldEnd)

	e.tree.Edit(sitter.EditInput{
		StartIndex:  start,
		OldEndIndex: oldEnd,
		NewEndIndex: start + uint32(len(ed.NewText)),
		StartPoint:  startPoint,
		OldEndPoint: oldEndPoint,
		NewEndPoint: advance(startPoint, ed.NewText),
	})
	e.edited = true
}

// Reset drops the previous tree so the next Emit parses from scratch.
func (e *Emitter) Reset() {
	if e.tree != nil {
		e.tree.Close()
		e.tree = nil
	}
	e.edited = false
}

// Close releases the tree and parser. The emitter is unusable afterwards.
func (e *Emitter) Close() {
	if e.closed {
		return
	}
	e.Reset()
	e.parser.Close()
	e.closed = true
}

// pointAt returns the row/column of byte offset pos. Columns are bytes.
func pointAt(src []byte, pos uint32) sitter.Point {
	return advance(sitter.Point{}, src[:pos])
}

func advance(p sitter.Point, text []byte) sitter.Point {
	for {
		i := bytes.IndexByte(text, '\n')
		if i < 0 {
			p.Column += uint32(len(text))
			return p
		}
		p.Row++
		p.Column = 0
		text = text[i+1:]
	}
}
