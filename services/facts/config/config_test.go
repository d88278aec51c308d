// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/factstream/services/facts/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 5*time.Minute, cfg.Cache.MaxAge)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "factstream.yaml")

	require.NoError(t, WriteDefault(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.False(t, info.IsDir())

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	err = WriteDefault(path)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factstream.yaml")
	content := `
cache:
  max_entries: 16
  max_age: 30s
watch:
  debounce: 200ms
logging:
  level: debug
  json: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Cache.MaxEntries)
	assert.Equal(t, 30*time.Second, cfg.Cache.MaxAge)
	assert.Equal(t, 200*time.Millisecond, cfg.Watch.Debounce)
	assert.True(t, cfg.Logging.JSON)

	def := DefaultConfig()
	assert.Equal(t, def.Atoms, cfg.Atoms)
	assert.Equal(t, def.Stream, cfg.Stream)
	assert.Equal(t, def.Watch.MaxEventsPerSecond, cfg.Watch.MaxEventsPerSecond)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	cfg, err := LoadOrDefault(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("cache: [1, 2"), 0644))
	_, err = Load(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("store:\n  min_confidence: 2\n"), 0644))
	_, err = LoadOrDefault(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.min_confidence")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"cache entries", func(c *Config) { c.Cache.MaxEntries = 0 }, "cache.max_entries"},
		{"cache age", func(c *Config) { c.Cache.MaxAge = 0 }, "cache.max_age"},
		{"page size", func(c *Config) { c.Atoms.PageSize = -1 }, "atoms.page_size"},
		{"confidence", func(c *Config) { c.Store.MinConfidence = -0.1 }, "store.min_confidence"},
		{"capacity", func(c *Config) { c.Store.InitialCapacity = -1 }, "store.initial_capacity"},
		{"arena", func(c *Config) { c.Stream.ArenaCapacity = 0 }, "stream.arena_capacity"},
		{"ring", func(c *Config) { c.Stream.RingCapacity = 0 }, "stream.ring_capacity"},
		{"debounce", func(c *Config) { c.Watch.Debounce = -time.Second }, "watch.debounce"},
		{"rate", func(c *Config) { c.Watch.MaxEventsPerSecond = -1 }, "watch.max_events_per_second"},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"trace exporter", func(c *Config) { c.Telemetry.TraceExporter = "zipkin" }, "telemetry.trace_exporter"},
		{"metric exporter", func(c *Config) { c.Telemetry.MetricExporter = "statsd" }, "telemetry.metric_exporter"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "telemetry.sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	cfg := DefaultConfig()
	cfg.Cache.MaxEntries = 0
	cfg.Logging.Level = "loud"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.max_entries must be greater than 0, got 0")
	assert.Contains(t, err.Error(), `logging.level "loud" is not one of debug, info, warn, error`)
}

func TestValidate_BoundsAreInclusive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.MinConfidence = 1
	cfg.Store.InitialCapacity = 0
	cfg.Watch.Debounce = 0
	cfg.Watch.MaxEventsPerSecond = 0
	cfg.Telemetry.SampleRate = 0
	cfg.Logging.Level = ""
	cfg.Telemetry.TraceExporter = ""
	cfg.Telemetry.Output = &bytes.Buffer{}
	assert.NoError(t, cfg.Validate())
}

func TestSessionOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.MaxEntries = 1

	s, err := engine.NewSession("doc.json", cfg.SessionOptions()...)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Load(context.Background(), []byte(`{"a": [1, 2]}`)))
	assert.Positive(t, s.Stats().Facts)

	ws := engine.NewWorkspace(engine.WithSessionOptions(cfg.SessionOptions()...))
	defer ws.Close()
	w, err := engine.NewWatcher(ws, cfg.WatcherOptions()...)
	require.NoError(t, err)
	assert.NoError(t, w.Close())
}
