// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads factstream settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/AleutianAI/factstream/pkg/telemetry"
	"github.com/AleutianAI/factstream/services/facts/atom"
	"github.com/AleutianAI/factstream/services/facts/engine"
	"github.com/AleutianAI/factstream/services/facts/query"
	"github.com/AleutianAI/factstream/services/facts/stream"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is written into new config files.
const CurrentVersion = "1"

// configValidate checks the validate tags and reports fields by YAML name.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	configValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		return name
	})
}

// Config is the on-disk configuration.
type Config struct {
	// Version of the file layout.
	Version string `yaml:"version"`

	Cache   CacheConfig   `yaml:"cache"`
	Atoms   AtomsConfig   `yaml:"atoms"`
	Store   StoreConfig   `yaml:"store"`
	Stream  StreamConfig  `yaml:"stream"`
	Watch   WatchConfig   `yaml:"watch"`
	Logging LoggingConfig `yaml:"logging"`

	Telemetry telemetry.Config `yaml:"telemetry"`
}

type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries" validate:"gt=0"` // e.g. 1024
	MaxAge     time.Duration `yaml:"max_age" validate:"gt=0"`     // e.g. 5m
}

type AtomsConfig struct {
	PageSize int    `yaml:"page_size" validate:"gt=0"`
	MaxBytes uint64 `yaml:"max_bytes"` // 0 = unbounded
}

type StoreConfig struct {
	// MinConfidence drops facts below it after every load. 0 keeps all.
	MinConfidence   float32 `yaml:"min_confidence" validate:"gte=0,lte=1"`
	InitialCapacity int     `yaml:"initial_capacity" validate:"gte=0"`
}

type StreamConfig struct {
	ArenaCapacity int `yaml:"arena_capacity" validate:"gt=0"`
	RingCapacity  int `yaml:"ring_capacity" validate:"gt=0"` // watch queue size
}

type WatchConfig struct {
	Debounce           time.Duration `yaml:"debounce" validate:"gte=0"`
	MaxEventsPerSecond float64       `yaml:"max_events_per_second" validate:"gte=0"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON   bool   `yaml:"json"`
	LogDir string `yaml:"log_dir,omitempty"`
}

// DefaultConfig returns the settings used when no file exists.
func DefaultConfig() Config {
	return Config{
		Version: CurrentVersion,
		Cache: CacheConfig{
			MaxEntries: query.DefaultMaxEntries,
			MaxAge:     query.DefaultMaxAge,
		},
		Atoms: AtomsConfig{
			PageSize: atom.DefaultPageSize,
		},
		Store: StoreConfig{
			InitialCapacity: 1024,
		},
		Stream: StreamConfig{
			ArenaCapacity: stream.DefaultArenaCapacity,
			RingCapacity:  engine.DefaultQueueCapacity,
		},
		Watch: WatchConfig{
			Debounce:           engine.DefaultDebounce,
			MaxEventsPerSecond: engine.DefaultMaxEventsPerSecond,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// DefaultPath returns ~/.factstream/factstream.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}
	return filepath.Join(home, ".factstream", "factstream.yaml"), nil
}

// Load reads path over the defaults, so keys missing from the file keep
// their default values.
//
// Description:
//
//	A missing file is an error wrapping os.ErrNotExist; callers that want
//	defaults in that case use LoadOrDefault. The result is validated.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields DefaultConfig.
func LoadOrDefault(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return cfg, err
}

// WriteDefault writes DefaultConfig to path, creating parent directories.
// An existing file is left alone and reported with os.ErrExist.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s: %w", path, os.ErrExist)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports every out-of-range setting, naming each by its dotted
// YAML key.
func (c Config) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, fieldError(fe))
	}
	return errors.Join(errs...)
}

func fieldError(fe validator.FieldError) error {
	// Namespace is "Config.<yaml path>".
	_, key, _ := strings.Cut(fe.Namespace(), ".")
	switch fe.Tag() {
	case "gt":
		return fmt.Errorf("%s must be greater than %s, got %v", key, fe.Param(), fe.Value())
	case "gte":
		return fmt.Errorf("%s must be at least %s, got %v", key, fe.Param(), fe.Value())
	case "lte":
		return fmt.Errorf("%s must be at most %s, got %v", key, fe.Param(), fe.Value())
	case "oneof":
		return fmt.Errorf("%s %q is not one of %s", key, fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Errorf("%s failed %s validation, got %v", key, fe.Tag(), fe.Value())
	}
}

// SessionOptions converts the cache, atoms, store and stream sections.
func (c Config) SessionOptions() []engine.Option {
	atomOpts := []atom.Option{atom.WithPageSize(c.Atoms.PageSize)}
	if c.Atoms.MaxBytes > 0 {
		atomOpts = append(atomOpts, atom.WithMaxBytes(c.Atoms.MaxBytes))
	}
	return []engine.Option{
		engine.WithStoreCapacity(c.Store.InitialCapacity),
		engine.WithArenaCapacity(c.Stream.ArenaCapacity),
		engine.WithCacheOptions(
			query.WithMaxEntries(c.Cache.MaxEntries),
			query.WithMaxAge(c.Cache.MaxAge),
		),
		engine.WithAtomOptions(atomOpts...),
	}
}

// WatcherOptions converts the watch section and the ring capacity.
func (c Config) WatcherOptions() []engine.WatcherOption {
	return []engine.WatcherOption{
		engine.WithDebounce(c.Watch.Debounce),
		engine.WithRateLimit(c.Watch.MaxEventsPerSecond),
		engine.WithQueueCapacity(c.Stream.RingCapacity),
	}
}
