// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/AleutianAI/factstream/services/facts/query"
	"github.com/AleutianAI/factstream/services/facts/span"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = "{\n  \"a\": 1,\n  \"b\": 2\n}\n"

// run executes factctl with args against a config in dir and returns
// stdout.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()

	lexLimit, lexTokens = 0, false
	queryPredicate, queryCategory, querySpan = "", "", ""
	queryAt, queryGeneration = -1, -1
	editPatch, editWrite, editWarm = "", false, true
	watchMetricsAddr = ""
	configForce = false
	logLevel = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append([]string{"--config", filepath.Join(dir, "factstream.yaml")}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeSample(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))
	return path
}

func TestParseSpan(t *testing.T) {
	sp, err := parseSpan("3:9")
	require.NoError(t, err)
	assert.Equal(t, span.New(3, 9), sp)

	for _, bad := range []string{"3", "a:9", "3:b", "9:3", "-1:2"} {
		_, err := parseSpan(bad)
		assert.Error(t, err, bad)
	}
}

func TestBuildQuery(t *testing.T) {
	queryPredicate, queryCategory, querySpan = "", "", ""
	queryAt, queryGeneration = -1, -1
	_, err := buildQuery()
	assert.Error(t, err)

	queryPredicate = "is_string"
	q, err := buildQuery()
	require.NoError(t, err)
	assert.Equal(t, query.KindPredicate, q.Kind())

	queryAt = 4
	q, err = buildQuery()
	require.NoError(t, err)
	assert.Equal(t, query.KindAnd, q.Kind())
	assert.Len(t, q.Children(), 2)

	queryPredicate = "no_such_predicate"
	_, err = buildQuery()
	assert.Error(t, err)
	queryPredicate, queryAt = "", -1
}

func TestLexCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeSample(t, dir)

	out, err := run(t, dir, "lex", path)
	require.NoError(t, err)
	assert.Contains(t, out, "has_text")
	assert.Contains(t, out, "is_key")

	out, err = run(t, dir, "lex", "--tokens", "--limit", "2", path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)
}

func TestQueryCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeSample(t, dir)

	out, err := run(t, dir, "query", "--predicate", "is_key", path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)

	_, err = run(t, dir, "query", path)
	assert.Error(t, err)

	_, err = run(t, dir, "query", "--category", "nonsense", path)
	assert.Error(t, err)
}

func TestEditCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeSample(t, dir)
	patch := filepath.Join(dir, "change.patch")
	require.NoError(t, os.WriteFile(patch, []byte(`--- a/doc.json
+++ b/doc.json
@@ -1,4 +1,4 @@
 {
   "a": 1,
-  "b": 2
+  "b": 3
 }
`), 0644))

	out, err := run(t, dir, "edit", "--patch", patch, "--write", path)
	require.NoError(t, err)
	assert.Contains(t, out, "relexed_tokens")
	assert.Contains(t, out, "cache_invalidated")
	assert.Contains(t, out, "OK: applied 1 edits")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Replace(sample, "2", "3", 1), string(data))
}

func TestStatsCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeSample(t, dir)

	out, err := run(t, dir, "stats", path)
	require.NoError(t, err)
	assert.Contains(t, out, "mode\tlexical")
	assert.Contains(t, out, "source_bytes\t"+strconv.Itoa(len(sample)))
}

func TestConfigCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: wrote")
	_, err = os.Stat(filepath.Join(dir, "factstream.yaml"))
	require.NoError(t, err)

	out, err = run(t, dir, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	out, err = run(t, dir, "config", "init", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: wrote")

	out, err = run(t, dir, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "max_entries: 1024")
}
