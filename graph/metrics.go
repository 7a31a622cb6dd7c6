// Copyright (C) 2025 Engram Labs (dev@engramhq.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for graph metrics.
var meter = otel.Meter("engram.graph")

// Metric instruments for graph operations.
var (
	edgesCreatedTotal    metric.Int64Counter
	cyclesPreventedTotal metric.Int64Counter
	pathQueriesTotal     metric.Int64Counter

	metricsOnce sync.Once
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

		edgesCreatedTotal, err = meter.Int64Counter(
			"graph_edges_created_total",
			metric.WithDescription("Total number of relationships created"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cyclesPreventedTotal, err = meter.Int64Counter(
			"graph_cycles_prevented_total",
			metric.WithDescription("Total number of edge creations rejected by the cycle check"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		pathQueriesTotal, err = meter.Int64Counter(
			"graph_path_queries_total",
			metric.WithDescription("Total number of pathfinding queries"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordEdgeCreated records a successful relationship creation.
func recordEdgeCreated(ctx context.Context, relType string) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	edgesCreatedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", relType),
	))
}

// recordCyclePrevented records an edge rejected by the cycle check.
func recordCyclePrevented(ctx context.Context) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	cyclesPreventedTotal.Add(ctx, 1)
}

// recordPathQuery records a pathfinding query.
func recordPathQuery(ctx context.Context, algorithm string) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	pathQueriesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("algorithm", algorithm),
	))
}
