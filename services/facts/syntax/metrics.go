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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for syntax emission.
var (
	tracer = otel.Tracer("factstream.syntax")
	meter  = otel.Meter("factstream.syntax")
)

var (
	parseLatency  metric.Float64Histogram
	parseTotal    metric.Int64Counter
	factsEmitted  metric.Int64Histogram
	parseFailures metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		parseLatency, err = meter.Float64Histogram(
			"syntax_parse_duration_seconds",
			metric.WithDescription("Duration of tree-sitter parses"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseTotal, err = meter.Int64Counter(
			"syntax_parse_total",
			metric.WithDescription("Total number of parses"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		factsEmitted, err = meter.Int64Histogram(
			"syntax_facts_emitted",
			metric.WithDescription("Number of facts emitted per parse"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseFailures, err = meter.Int64Counter(
			"syntax_parse_failures_total",
			metric.WithDescription("Total number of failed parses"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordParseMetrics records one parse.
func recordParseMetrics(ctx context.Context, language string, duration time.Duration, factCount int, incremental, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("language", language),
		attribute.Bool("incremental", incremental),
		attribute.Bool("success", success),
	)
	parseLatency.Record(ctx, duration.Seconds(), attrs)
	parseTotal.Add(ctx, 1, attrs)

	if success {
		factsEmitted.Record(ctx, int64(factCount),
			metric.WithAttributes(attribute.String("language", language)),
		)
	} else {
		parseFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("language", language)),
		)
	}
}

func startParseSpan(ctx context.Context, language string, contentSize int, incremental bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Emitter.Emit",
		trace.WithAttributes(
			attribute.String("syntax.language", language),
			attribute.Int("syntax.content_size", contentSize),
			attribute.Bool("syntax.incremental", incremental),
		),
	)
}
