package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// ApplyMetricDelta folds delta into the (target, day) rollup with one upsert.
func (s *Store) ApplyMetricDelta(ctx context.Context, d scraper.MetricDelta) error {
	var (
		sample  *float64
		samples int
	)
	if d.ResponseTimeMs != nil {
		v := float64(*d.ResponseTimeMs)
		sample, samples = &v, 1
	}
	query := `
		INSERT INTO daily_metrics AS m (target_id, date, jobs_scheduled, jobs_completed, jobs_failed,
			items_extracted, records_processed, avg_response_time_ms, response_time_samples,
			total_response_bytes, error_count, warning_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (target_id, date) DO UPDATE SET
			jobs_scheduled = m.jobs_scheduled + EXCLUDED.jobs_scheduled,
			jobs_completed = m.jobs_completed + EXCLUDED.jobs_completed,
			jobs_failed = m.jobs_failed + EXCLUDED.jobs_failed,
			items_extracted = m.items_extracted + EXCLUDED.items_extracted,
			records_processed = m.records_processed + EXCLUDED.records_processed,
			avg_response_time_ms = CASE
				WHEN EXCLUDED.response_time_samples = 0 THEN m.avg_response_time_ms
				ELSE (COALESCE(m.avg_response_time_ms, 0) * m.response_time_samples + EXCLUDED.avg_response_time_ms)
					/ (m.response_time_samples + 1)
			END,
			response_time_samples = m.response_time_samples + EXCLUDED.response_time_samples,
			total_response_bytes = m.total_response_bytes + EXCLUDED.total_response_bytes,
			error_count = m.error_count + EXCLUDED.error_count,
			warning_count = m.warning_count + EXCLUDED.warning_count`
	_, err := s.pool.Exec(ctx, query,
		d.TargetID, scraper.Date(d.Date), d.JobsScheduled, d.JobsCompleted, d.JobsFailed,
		d.ItemsExtracted, d.RecordsProcessed, sample, samples,
		d.ResponseBytes, d.Errors, d.Warnings,
	)
	if err != nil {
		return wrap("apply metric delta", err)
	}
	return nil
}

const metricColumns = `target_id, date, jobs_scheduled, jobs_completed, jobs_failed, items_extracted,
	records_processed, avg_response_time_ms, response_time_samples, total_response_bytes, error_count, warning_count`

func scanMetric(row scanner) (scraper.DailyMetric, error) {
	var m scraper.DailyMetric
	err := row.Scan(
		&m.TargetID, &m.Date, &m.JobsScheduled, &m.JobsCompleted, &m.JobsFailed, &m.ItemsExtracted,
		&m.RecordsProcessed, &m.AvgResponseTimeMs, &m.ResponseTimeSamples, &m.TotalResponseBytes,
		&m.ErrorCount, &m.WarningCount,
	)
	return m, err
}

// ListMetrics returns a target's rollups from since's day onward, oldest first.
func (s *Store) ListMetrics(ctx context.Context, targetID int64, since time.Time) ([]scraper.DailyMetric, error) {
	query := `SELECT ` + metricColumns + ` FROM daily_metrics WHERE target_id = $1 AND date >= $2 ORDER BY date`
	rows, err := s.pool.Query(ctx, query, targetID, scraper.Date(since))
	if err != nil {
		return nil, wrap("list metrics", err)
	}
	return collect(rows, "list metrics", scanMetric)
}

// DeleteMetricsBefore removes rollups dated before the cutoff's day.
func (s *Store) DeleteMetricsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM daily_metrics WHERE date < $1`, scraper.Date(before))
	if err != nil {
		return 0, wrap("delete metrics", err)
	}
	return tag.RowsAffected(), nil
}

const logColumns = `id, target_id, job_id, level, message, context, created_at`

func scanLog(row scanner) (scraper.LogEntry, error) {
	var (
		e   scraper.LogEntry
		raw []byte
	)
	if err := row.Scan(&e.ID, &e.TargetID, &e.JobID, &e.Level, &e.Message, &raw, &e.CreatedAt); err != nil {
		return e, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.Context); err != nil {
			return e, fmt.Errorf("decode log context: %w", err)
		}
	}
	return e, nil
}

// AppendLog adds a journal entry.
func (s *Store) AppendLog(ctx context.Context, e scraper.LogEntry) (scraper.LogEntry, error) {
	raw := []byte("{}")
	if e.Context != nil {
		var err error
		if raw, err = json.Marshal(e.Context); err != nil {
			return scraper.LogEntry{}, fmt.Errorf("encode log context: %w", err)
		}
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO scrape_logs (target_id, job_id, level, message, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := s.pool.QueryRow(ctx, query, e.TargetID, e.JobID, e.Level, e.Message, raw, e.CreatedAt).Scan(&e.ID); err != nil {
		return scraper.LogEntry{}, wrap("append log", err)
	}
	return e, nil
}

// ListLogs returns matching entries newest first.
func (s *Store) ListLogs(ctx context.Context, filter scraper.LogFilter) ([]scraper.LogEntry, error) {
	query := `SELECT ` + logColumns + ` FROM scrape_logs
		WHERE ($1::bigint = 0 OR target_id = $1)
			AND ($2::bigint IS NULL OR job_id = $2)
			AND ($3::text = '' OR level = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`
	rows, err := s.pool.Query(ctx, query, filter.TargetID, filter.JobID, string(filter.Level), limitArg(filter.Limit))
	if err != nil {
		return nil, wrap("list logs", err)
	}
	return collect(rows, "list logs", scanLog)
}

// DeleteLogsBefore removes journal entries created before the cutoff.
func (s *Store) DeleteLogsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scrape_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, wrap("delete logs", err)
	}
	return tag.RowsAffected(), nil
}
