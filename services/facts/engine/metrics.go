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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("factstream.engine")

// Prometheus metrics for the engine.
var (
	engineLoadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "factstream_engine_loads_total",
		Help: "Total document loads by mode",
	}, []string{"mode"})

	engineEditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "factstream_engine_edits_total",
		Help: "Total edits applied by mode and outcome",
	}, []string{"mode", "outcome"})

	engineRelexedTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "factstream_engine_relexed_tokens",
		Help:    "Tokens re-lexed per edit",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 500, 1000, 10000},
	})

	engineResyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "factstream_engine_resync_total",
		Help: "Incremental relex results by outcome",
	}, []string{"outcome"})

	engineFactsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "factstream_engine_facts_appended_total",
		Help: "Total facts appended to session stores",
	})

	engineFactsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "factstream_engine_facts_dropped_total",
		Help: "Total stale facts removed from session stores",
	})

	workspaceSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "factstream_workspace_sessions",
		Help: "Number of open workspace sessions",
	})

	watchEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "factstream_watch_events_total",
		Help: "File events seen by the watcher by outcome",
	}, []string{"outcome"})
)

const (
	resyncMatched = "resynced"
	resyncEOF     = "eof"

	outcomeOK    = "ok"
	outcomeError = "error"
)

func startSessionSpan(ctx context.Context, name string, s *Session) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.String("session.path", s.path),
			attribute.String("session.mode", s.mode.String()),
		),
	)
}
