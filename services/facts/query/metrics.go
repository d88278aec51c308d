// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Miss reasons, used as metric attributes.
const (
	missAbsent     = "absent"
	missGeneration = "generation"
	missExpired    = "expired"
)

var meter = otel.Meter("factstream.query")

// Metrics for query cache operations.
var (
	cacheHits          metric.Int64Counter
	cacheMisses        metric.Int64Counter
	cacheEvictions     metric.Int64Counter
	cacheInvalidations metric.Int64Counter
	cacheGetLatency    metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"query_cache_hits_total",
			metric.WithDescription("Total number of query cache hits"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"query_cache_misses_total",
			metric.WithDescription("Total number of query cache misses by reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheEvictions, err = meter.Int64Counter(
			"query_cache_evictions_total",
			metric.WithDescription("Total number of LRU evictions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheInvalidations, err = meter.Int64Counter(
			"query_cache_invalidations_total",
			metric.WithDescription("Total number of entries removed by span or generation invalidation"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheGetLatency, err = meter.Float64Histogram(
			"query_cache_get_duration_seconds",
			metric.WithDescription("Duration of query cache get operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordCacheHit(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheHits.Add(ctx, 1)
}

func recordCacheMiss(ctx context.Context, reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func recordCacheEviction(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheEvictions.Add(ctx, 1)
}

func recordCacheInvalidations(ctx context.Context, n int, cause string) {
	if n == 0 {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	cacheInvalidations.Add(ctx, int64(n), metric.WithAttributes(attribute.String("cause", cause)))
}

func recordCacheGetLatency(ctx context.Context, duration time.Duration, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheGetLatency.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.Bool("hit", hit)),
	)
}
