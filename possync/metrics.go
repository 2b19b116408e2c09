// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package possync

import (
	"context"
	"time"
)

const (
	MetricsStageTotal = "total"

	// Per-transaction reconciliation steps.
	MetricsStageList              = "list"
	MetricsStageTransactionHeader = "transaction_header"
	MetricsStageTransactionItems  = "transaction_items"
	MetricsStageSales             = "sales"
	MetricsStageStock             = "stock"
	MetricsStageComplete          = "complete"

	MetricsStageProductUpdate = "product_update"
	MetricsStageSaleInsert    = "sale_insert"
	MetricsStageRefreshCaches = "refresh_caches"
)

type StageTiming struct {
	Operation string
	Stage     string
	Duration  time.Duration
	Count     int
	Error     bool
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

func (c *Coordinator) stageTimingEnabled() bool {
	return c.config.StageMetrics != nil || c.config.LogStageTimings
}

func (c *Coordinator) stageStart() time.Time {
	if !c.stageTimingEnabled() {
		return time.Time{}
	}
	return time.Now()
}

func (c *Coordinator) observeStage(ctx context.Context, op, stage string, start time.Time, count int, hadError bool) {
	if start.IsZero() {
		return
	}

	timing := StageTiming{
		Operation: op,
		Stage:     stage,
		Duration:  time.Since(start),
		Count:     count,
		Error:     hadError,
	}

	if c.config.StageMetrics != nil {
		c.config.StageMetrics.ObserveStage(ctx, timing)
	}
	if c.config.LogStageTimings {
		c.logger.Debug("Stage timing",
			"op", timing.Operation,
			"stage", timing.Stage,
			"duration", timing.Duration,
			"count", timing.Count,
			"error", timing.Error,
		)
	}
}
