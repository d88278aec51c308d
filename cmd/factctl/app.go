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
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/factstream/pkg/logging"
	"github.com/AleutianAI/factstream/pkg/telemetry"
	"github.com/AleutianAI/factstream/pkg/ux"
	"github.com/AleutianAI/factstream/services/facts/atom"
	"github.com/AleutianAI/factstream/services/facts/config"
	"github.com/AleutianAI/factstream/services/facts/engine"
	"github.com/AleutianAI/factstream/services/facts/fact"
	"github.com/AleutianAI/factstream/services/facts/span"
	"github.com/spf13/cobra"
)

// app is the state shared by every command after setup.
type app struct {
	configPath string
	cfg        config.Config
	logger     *logging.Logger
	out        *ux.Printer
	shutdown   func(context.Context) error
}

var cli app

func setup(cmd *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}

	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.LogDir,
		Service: "factctl",
		JSON:    cfg.Logging.JSON,
		Output:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger.Slog())

	// --metrics-addr implies the prometheus exporter.
	if watchMetricsAddr != "" && cfg.Telemetry.MetricExporter == telemetry.ExporterNone {
		cfg.Telemetry.MetricExporter = telemetry.ExporterPrometheus
	}
	shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry)
	if err != nil {
		logger.Close()
		return err
	}

	cli = app{
		configPath: path,
		cfg:        cfg,
		logger:     logger,
		out:        ux.NewPrinter(cmd.OutOrStdout()),
		shutdown:   shutdown,
	}
	return nil
}

func teardown(_ *cobra.Command, _ []string) {
	if cli.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cli.shutdown(ctx); err != nil {
			cli.logger.Slog().Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}
	if cli.logger != nil {
		_ = cli.logger.Close()
	}
}

// newWorkspace builds a workspace from the loaded configuration.
func (a *app) newWorkspace() *engine.Workspace {
	return engine.NewWorkspace(
		engine.WithSessionOptions(a.cfg.SessionOptions()...),
		engine.WithWorkspaceLogger(a.logger.Slog()),
	)
}

// open loads path and applies store.min_confidence.
func (a *app) open(ctx context.Context, ws *engine.Workspace, path string) (*engine.Session, error) {
	s, err := ws.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if a.cfg.Store.MinConfidence > 0 {
		s.Compact(ctx, a.cfg.Store.MinConfidence)
	}
	return s, nil
}

// formatFact renders f, resolving atom objects to their text.
func formatFact(s *engine.Session, f fact.Fact) string {
	out := f.String()
	switch f.Predicate() {
	case fact.HasText, fact.HasName, fact.IsNode:
		n, _ := f.Number()
		if text, ok := s.AtomString(atom.ID(n)); ok {
			out += " " + strconv.Quote(text)
		}
	}
	return out
}

// parseSpan parses "START:END".
func parseSpan(s string) (span.Span, error) {
	startText, endText, ok := strings.Cut(s, ":")
	if !ok {
		return span.Span{}, fmt.Errorf("span %q: want START:END", s)
	}
	start, err := strconv.ParseUint(startText, 10, 32)
	if err != nil {
		return span.Span{}, fmt.Errorf("span %q: %w", s, err)
	}
	end, err := strconv.ParseUint(endText, 10, 32)
	if err != nil {
		return span.Span{}, fmt.Errorf("span %q: %w", s, err)
	}
	if end < start {
		return span.Span{}, fmt.Errorf("span %q: end before start", s)
	}
	return span.New(uint32(start), uint32(end)), nil
}
