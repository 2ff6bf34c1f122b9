package postgres

import (
	"context"
	"fmt"
	"time"

	"contentforge/internal/domain"
)

// UsageStore persists append-only usage logs and their analytics rollups
type UsageStore struct {
	db *DB
}

func (s *UsageStore) InsertUsageLog(ctx context.Context, log *domain.UsageLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_logs (
			id, provider, model, task_type, vertical, tokens_in, tokens_out,
			cost, duration_ms, success, error_message, content_length, requested_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		log.ID, log.Provider, log.Model, log.TaskType, nullIfEmpty(log.Vertical),
		log.TokensIn, log.TokensOut, log.Cost, log.DurationMS, log.Success,
		nullIfEmpty(log.ErrorMessage), log.ContentLength, log.RequestedAt)
	if err != nil {
		return fmt.Errorf("failed to insert usage log: %w", err)
	}
	return nil
}

// UpsertAnalytics increments the rollup row keyed by
// (date, vertical, provider, model). The average duration folds in the new
// sample against the previous total count.
func (s *UsageStore) UpsertAnalytics(ctx context.Context, log *domain.UsageLog, date time.Time) error {
	success := 0
	fail := 0
	if log.Success {
		success = 1
	} else {
		fail = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generation_analytics (
			date, vertical, provider, model, total_count, success_count, fail_count,
			tokens_in, tokens_out, total_cost, avg_duration_ms, total_content_length
		) VALUES ($1, $2, $3, $4, 1, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (date, vertical, provider, model) DO UPDATE SET
			total_count = generation_analytics.total_count + 1,
			success_count = generation_analytics.success_count + EXCLUDED.success_count,
			fail_count = generation_analytics.fail_count + EXCLUDED.fail_count,
			tokens_in = generation_analytics.tokens_in + EXCLUDED.tokens_in,
			tokens_out = generation_analytics.tokens_out + EXCLUDED.tokens_out,
			total_cost = generation_analytics.total_cost + EXCLUDED.total_cost,
			avg_duration_ms = (generation_analytics.avg_duration_ms * generation_analytics.total_count
				+ EXCLUDED.avg_duration_ms) / (generation_analytics.total_count + 1),
			total_content_length = generation_analytics.total_content_length + EXCLUDED.total_content_length`,
		date, log.Vertical, log.Provider, log.Model, success, fail,
		log.TokensIn, log.TokensOut, log.Cost, float64(log.DurationMS), log.ContentLength)
	if err != nil {
		return fmt.Errorf("failed to upsert analytics: %w", err)
	}
	return nil
}

// UsageStats aggregates the window. COALESCE keeps empty windows at zero
// instead of NULL scans.
func (s *UsageStore) UsageStats(ctx context.Context, since time.Time) (*domain.UsageStats, error) {
	var stats domain.UsageStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(cost), 0),
			COALESCE(AVG(duration_ms), 0),
			COALESCE(100.0 * SUM(CASE WHEN success THEN 1 ELSE 0 END) / NULLIF(COUNT(*), 0), 0)
		FROM usage_logs
		WHERE requested_at >= $1`, since).Scan(
		&stats.TotalGenerations, &stats.TotalCost, &stats.AverageDuration, &stats.SuccessRate)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage stats: %w", err)
	}
	return &stats, nil
}

func (s *UsageStore) AnalyticsRows(ctx context.Context, since time.Time) ([]*domain.AnalyticsRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, vertical, provider, model, total_count, success_count, fail_count,
			tokens_in, tokens_out, total_cost, avg_duration_ms, total_content_length
		FROM generation_analytics
		WHERE date >= $1
		ORDER BY date DESC, provider`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query analytics: %w", err)
	}
	defer rows.Close()

	result := []*domain.AnalyticsRow{}
	for rows.Next() {
		var row domain.AnalyticsRow
		if err := rows.Scan(&row.Date, &row.Vertical, &row.Provider, &row.Model,
			&row.TotalCount, &row.SuccessCount, &row.FailCount,
			&row.TokensIn, &row.TokensOut, &row.TotalCost,
			&row.AvgDurationMS, &row.TotalContentLength); err != nil {
			return nil, fmt.Errorf("failed to scan analytics row: %w", err)
		}
		result = append(result, &row)
	}
	return result, rows.Err()
}

// CleanupOldLogs hard-deletes aged usage logs. Rollups are kept; they are
// the durable history once raw logs age out.
func (s *UsageStore) CleanupOldLogs(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_logs WHERE requested_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up usage logs: %w", err)
	}
	return result.RowsAffected()
}
