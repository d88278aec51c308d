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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/factstream/services/facts/fact"
	"github.com/AleutianAI/factstream/services/facts/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestWorkspace_OpenSharesSessions(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.json", doc)

	ws := NewWorkspace()
	defer ws.Close()

	var wg sync.WaitGroup
	sessions := make([]*Session, 8)
	for i := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := ws.Open(context.Background(), path)
			assert.NoError(t, err)
			sessions[i] = s
		}()
	}
	wg.Wait()

	for _, s := range sessions[1:] {
		assert.Same(t, sessions[0], s)
	}
	assert.Len(t, ws.Sessions(), 1)
	assert.Equal(t, doc, string(sessions[0].Source()))
}

func TestWorkspace_LoadFiles(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := range 5 {
		paths = append(paths, writeFile(t, dir, fmt.Sprintf("f%d.json", i), fmt.Sprintf(`{"i": %d}`, i)))
	}
	paths = append(paths, writeFile(t, dir, "main.go", goDoc))

	ws := NewWorkspace(WithConcurrency(2))
	defer ws.Close()
	require.NoError(t, ws.LoadFiles(context.Background(), paths))

	sessions := ws.Sessions()
	require.Len(t, sessions, 6)
	ids := make(map[string]bool)
	for _, s := range sessions {
		ids[s.ID()] = true
	}
	assert.Len(t, ids, 6, "session IDs are unique")

	goSession, ok := ws.Get(paths[5])
	require.True(t, ok)
	assert.Equal(t, ModeSyntax, goSession.Mode())
	fns, err := goSession.Query(context.Background(), query.ByPredicate(fact.IsFunction))
	require.NoError(t, err)
	assert.Len(t, fns, 2)

	assert.True(t, ws.CloseSession(paths[0]))
	assert.False(t, ws.CloseSession(paths[0]))
	assert.Len(t, ws.Sessions(), 5)
}

func TestWorkspace_LoadFilesError(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "ok.json", `[]`)

	ws := NewWorkspace()
	defer ws.Close()
	err := ws.LoadFiles(context.Background(), []string{good, filepath.Join(dir, "missing.json")})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatcher_Sync(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "w.json", doc)

	ws := NewWorkspace()
	defer ws.Close()
	w, err := NewWatcher(ws)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Add(context.Background(), path))
	s, ok := ws.Get(path)
	require.True(t, ok)

	updated := `{"name": "factstream", "tags": [], "n": 43}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	results, err := w.Sync(context.Background(), path)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
	assert.Equal(t, updated, string(s.Source()))

	_, err = w.Sync(context.Background(), filepath.Join(dir, "unknown.json"))
	assert.Error(t, err)
}

func TestWatcher_RunPicksUpWrites(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "live.json", `[1]`)

	updates := make(chan error, 4)
	ws := NewWorkspace()
	defer ws.Close()
	w, err := NewWatcher(ws,
		WithDebounce(10*time.Millisecond),
		WithRateLimit(0),
		WithUpdateHandler(func(_ string, _ []EditResult, err error) { updates <- err }),
	)
	require.NoError(t, err)
	require.NoError(t, w.Add(context.Background(), path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte(`[1, 2]`), 0o644))

	select {
	case err := <-updates:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no update within 5s")
	}

	s, ok := ws.Get(path)
	require.True(t, ok)
	assert.Equal(t, `[1, 2]`, string(s.Source()))

	require.NoError(t, w.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.ErrorIs(t, w.Add(context.Background(), path), ErrWatcherClosed)
}
