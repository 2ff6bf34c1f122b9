// Package analytics records per-generation usage and folds it into
// time-bucketed rollups.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"contentforge/internal/domain"
	"contentforge/internal/storage"
)

// Aggregator writes append-only usage logs and maintains incremental
// analytics rollups. Rollups are at-least-once: rows are increment-upserts
// keyed by (date, vertical, provider, model) without dedup by log id, so
// callers must invoke the log/rollup pair exactly once per accepted usage
// record.
type Aggregator struct {
	store storage.UsageStore
}

// New creates an Aggregator
func New(store storage.UsageStore) *Aggregator {
	return &Aggregator{store: store}
}

// LogUsage appends one immutable usage log and rolls it up. A rollup
// failure is logged but does not fail the call: the log row is the source
// of truth and analytics can be rebuilt from it offline.
func (a *Aggregator) LogUsage(ctx context.Context, log *domain.UsageLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.RequestedAt.IsZero() {
		log.RequestedAt = time.Now().UTC()
	}

	if err := a.store.InsertUsageLog(ctx, log); err != nil {
		return &domain.PersistenceError{Op: "usage log insert", Cause: err}
	}

	if err := a.Rollup(ctx, log); err != nil {
		slog.Error("analytics rollup failed", "provider", log.Provider, "model", log.Model, "error", err)
	}
	return nil
}

// Rollup upserts the analytics row for one usage record, incrementing
// counters rather than overwriting.
func (a *Aggregator) Rollup(ctx context.Context, log *domain.UsageLog) error {
	bucket := log.RequestedAt.UTC().Truncate(24 * time.Hour)
	return a.store.UpsertAnalytics(ctx, log, bucket)
}

// UsageStats aggregates the window into totals, average duration, and a
// success rate. An empty window reports a zero success rate, never NaN.
func (a *Aggregator) UsageStats(ctx context.Context, timeframe domain.Timeframe) (*domain.UsageStats, error) {
	since := timeframe.CutoffTime(time.Now().UTC())
	stats, err := a.store.UsageStats(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage stats: %w", err)
	}
	return stats, nil
}

// Analytics returns the rollup rows inside the timeframe
func (a *Aggregator) Analytics(ctx context.Context, timeframe domain.Timeframe) ([]*domain.AnalyticsRow, error) {
	since := timeframe.CutoffTime(time.Now().UTC())
	return a.store.AnalyticsRows(ctx, since)
}

// CleanupOldLogs hard-deletes usage logs older than maxAgeDays and returns
// the count removed. It never touches the generation tree.
func (a *Aggregator) CleanupOldLogs(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays <= 0 {
		return 0, domain.NewValidationError("max_age_days", "must be positive")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	removed, err := a.store.CleanupOldLogs(ctx, cutoff)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "usage log cleanup", Cause: err}
	}
	if removed > 0 {
		slog.Info("cleaned up aged usage logs", "removed", removed, "max_age_days", maxAgeDays)
	}
	return removed, nil
}
