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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/AleutianAI/factstream/services/facts/syntax"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// WorkspaceOption configures a Workspace.
type WorkspaceOption func(*Workspace)

// WithRegistry sets the languages parsed with tree-sitter. Files whose
// extension is not registered are lexed as JSON.
func WithRegistry(r *syntax.Registry) WorkspaceOption {
	return func(w *Workspace) {
		if r != nil {
			w.registry = r
		}
	}
}

// WithSessionOptions sets options applied to every new session.
func WithSessionOptions(opts ...Option) WorkspaceOption {
	return func(w *Workspace) {
		w.sessionOpts = append(w.sessionOpts, opts...)
	}
}

// WithConcurrency caps parallel loads in LoadFiles.
func WithConcurrency(n int) WorkspaceOption {
	return func(w *Workspace) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

// WithWorkspaceLogger sets the logger.
func WithWorkspaceLogger(logger *slog.Logger) WorkspaceOption {
	return func(w *Workspace) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Workspace holds one session per document path.
//
// Description:
//
//	Concurrent Open calls for the same path share one load. LoadFiles
//	loads many documents in parallel; every session owns its own stream
//	arena, so workers never share one.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Workspace struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// opening deduplicates concurrent loads of the same path.
	opening singleflight.Group

	registry    *syntax.Registry
	sessionOpts []Option
	concurrency int
	logger      *slog.Logger
}

// NewWorkspace creates an empty workspace.
func NewWorkspace(opts ...WorkspaceOption) *Workspace {
	w := &Workspace{
		sessions:    make(map[string]*Session),
		registry:    syntax.DefaultRegistry(),
		concurrency: runtime.GOMAXPROCS(0),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Open returns the session for path, reading and loading the file the
// first time.
func (w *Workspace) Open(ctx context.Context, path string) (*Session, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path %s: %w", path, err)
	}

	if s, ok := w.Get(key); ok {
		return s, nil
	}

	v, err, shared := w.opening.Do(key, func() (any, error) {
		if s, ok := w.Get(key); ok {
			return s, nil
		}
		return w.load(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		w.logger.Debug("shared concurrent open", slog.String("path", key))
	}
	return v.(*Session), nil
}

func (w *Workspace) load(ctx context.Context, path string) (*Session, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	opts := append([]Option{WithLogger(w.logger)}, w.sessionOpts...)
	if lang, ok := w.registry.ForPath(path); ok {
		opts = append(opts, WithLanguage(lang))
	}
	s, err := NewSession(path, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Load(ctx, src); err != nil {
		s.Close()
		return nil, err
	}

	w.mu.Lock()
	w.sessions[path] = s
	n := len(w.sessions)
	w.mu.Unlock()

	workspaceSessions.Set(float64(n))
	w.logger.Info("session opened",
		slog.String("path", path),
		slog.String("mode", s.Mode().String()),
		slog.String("session", s.ID()),
	)
	return s, nil
}

// LoadFiles opens every path in parallel. It returns the first error;
// sessions loaded before the failure stay open.
func (w *Workspace) LoadFiles(ctx context.Context, paths []string) error {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for _, path := range paths {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			_, err := w.Open(gCtx, path)
			return err
		})
	}
	return g.Wait()
}

// Get returns the open session for an absolute path.
func (w *Workspace) Get(path string) (*Session, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s, ok := w.sessions[path]
	return s, ok
}

// Sessions returns all open sessions ordered by path.
func (w *Workspace) Sessions() []*Session {
	w.mu.RLock()
	out := make([]*Session, 0, len(w.sessions))
	for _, s := range w.sessions {
		out = append(out, s)
	}
	w.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

// CloseSession closes and forgets the session for path.
func (w *Workspace) CloseSession(path string) bool {
	key, err := filepath.Abs(path)
	if err != nil {
		return false
	}

	w.mu.Lock()
	s, ok := w.sessions[key]
	delete(w.sessions, key)
	n := len(w.sessions)
	w.mu.Unlock()

	if ok {
		s.Close()
		workspaceSessions.Set(float64(n))
	}
	return ok
}

// Close closes every session.
func (w *Workspace) Close() {
	w.mu.Lock()
	sessions := w.sessions
	w.sessions = make(map[string]*Session)
	w.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	workspaceSessions.Set(0)
}
