// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sync

import (
	"context"
	gosync "sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for synchronization metrics.
var meter = otel.Meter("engram.sync")

// Metric instruments for synchronization passes.
var (
	passesTotal    metric.Int64Counter
	mergedTotal    metric.Int64Counter
	conflictsTotal metric.Int64Counter
	passDuration   metric.Float64Histogram

	metricsOnce gosync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		passesTotal, err = meter.Int64Counter(
			"sync_passes_total",
			metric.WithDescription("Total number of synchronization passes"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		mergedTotal, err = meter.Int64Counter(
			"sync_entities_merged_total",
			metric.WithDescription("Total number of logical keys merged across branches"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		conflictsTotal, err = meter.Int64Counter(
			"sync_conflicts_total",
			metric.WithDescription("Total number of conflicts surfaced to callers"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		passDuration, err = meter.Float64Histogram(
			"sync_pass_duration_seconds",
			metric.WithDescription("Duration of synchronization passes in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordSync records the outcome of one synchronization pass.
func recordSync(ctx context.Context, strategy string, merged, conflicts int, elapsed time.Duration) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("strategy", strategy))
	passesTotal.Add(ctx, 1, attrs)
	mergedTotal.Add(ctx, int64(merged), attrs)
	conflictsTotal.Add(ctx, int64(conflicts), attrs)
	passDuration.Record(ctx, elapsed.Seconds(), attrs)
}
