package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

const jobColumns = `id, target_id, status, job_type, scheduled_at, started_at, completed_at, success,
	error_message, items_extracted, response_time_ms, response_size_bytes, retry_of, attempt, retry_issued`

func scanJob(row scanner) (scraper.Job, error) {
	var j scraper.Job
	err := row.Scan(
		&j.ID, &j.TargetID, &j.Status, &j.Type, &j.ScheduledAt, &j.StartedAt, &j.CompletedAt, &j.Success,
		&j.ErrorMessage, &j.ItemsExtracted, &j.ResponseTimeMs, &j.ResponseSizeBytes, &j.RetryOf, &j.Attempt,
		&j.RetryIssued,
	)
	return j, err
}

// CreateJob inserts a job. Empty status defaults to pending and attempt to 1.
func (s *Store) CreateJob(ctx context.Context, j scraper.Job) (scraper.Job, error) {
	if j.Status == "" {
		j.Status = scraper.JobStatusPending
	}
	if j.Attempt == 0 {
		j.Attempt = 1
	}
	query := `
		INSERT INTO jobs (target_id, status, job_type, scheduled_at, retry_of, attempt)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + jobColumns
	created, err := scanJob(s.pool.QueryRow(ctx, query, j.TargetID, j.Status, j.Type, j.ScheduledAt, j.RetryOf, j.Attempt))
	if err != nil {
		return scraper.Job{}, wrap("create job", err)
	}
	return created, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id int64) (scraper.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		return scraper.Job{}, wrap("get job", err)
	}
	return j, nil
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, filter scraper.JobFilter) ([]scraper.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE ($1::bigint = 0 OR target_id = $1) AND ($2::text = '' OR status = $2)
		ORDER BY id DESC
		LIMIT $3`
	rows, err := s.pool.Query(ctx, query, filter.TargetID, string(filter.Status), limitArg(filter.Limit))
	if err != nil {
		return nil, wrap("list jobs", err)
	}
	return collect(rows, "list jobs", scanJob)
}

// StartJob moves a pending job to running.
func (s *Store) StartJob(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `UPDATE jobs SET status = 'running', started_at = $2 WHERE id = $1 AND status = 'pending'`
	tag, err := s.pool.Exec(ctx, query, id, at)
	if err != nil {
		return false, wrap("start job", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FinishJob moves a running job to its terminal status and inserts record in
// the same transaction. A job no longer running is left untouched.
func (s *Store) FinishJob(ctx context.Context, id int64, outcome scraper.JobOutcome, record *scraper.ScrapedRecord) (finished bool, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, wrap("begin finish job", err)
	}
	defer func() {
		if !finished || err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := `
		UPDATE jobs SET status = $2, completed_at = $3, success = $4, error_message = $5,
			items_extracted = $6, response_time_ms = $7, response_size_bytes = $8
		WHERE id = $1 AND status = 'running'
		RETURNING target_id`
	var targetID int64
	err = tx.QueryRow(ctx, query,
		id, outcome.Status(), outcome.FinishedAt, outcome.Success, outcome.ErrorMessage,
		outcome.ItemsExtracted, outcome.ResponseTimeMs, outcome.ResponseSizeBytes,
	).Scan(&targetID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap("finish job", err)
	}

	if record != nil {
		record.JobID = id
		record.TargetID = targetID
		if record.Status == "" {
			record.Status = scraper.RecordStatusRaw
		}
		if err = insertRecord(ctx, tx, record); err != nil {
			return false, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return false, wrap("commit finish job", err)
	}
	return true, nil
}

func insertRecord(ctx context.Context, tx pgx.Tx, rec *scraper.ScrapedRecord) error {
	fields, err := json.Marshal(rec.ExtractedFields)
	if err != nil {
		return fmt.Errorf("encode extracted fields: %w", err)
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if rec.ExtractedFields == nil {
		fields = []byte("{}")
	}
	if rec.Metadata == nil {
		metadata = []byte("{}")
	}
	query := `
		INSERT INTO scraped_records (job_id, target_id, url, title, content, raw_body, extracted_fields,
			metadata, parse_error, content_hash, blob_uri, http_status, content_type, scraped_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`
	err = tx.QueryRow(ctx, query,
		rec.JobID, rec.TargetID, rec.URL, rec.Title, rec.Content, rec.RawBody, fields,
		metadata, rec.ParseError, rec.ContentHash, rec.BlobURI, rec.HTTPStatus, rec.ContentType, rec.ScrapedAt, rec.Status,
	).Scan(&rec.ID)
	if err != nil {
		return wrap("insert record", err)
	}
	return nil
}

// CancelJob cancels a pending or running job.
func (s *Store) CancelJob(ctx context.Context, id int64, at time.Time, reason string) (bool, error) {
	query := `
		UPDATE jobs SET status = 'cancelled', completed_at = $2, success = FALSE, error_message = $3
		WHERE id = $1 AND status IN ('pending', 'running')`
	tag, err := s.pool.Exec(ctx, query, id, at, reason)
	if err != nil {
		return false, wrap("cancel job", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListRetryCandidates returns unclaimed failed jobs below maxAttempts whose
// target is still active, oldest first.
func (s *Store) ListRetryCandidates(ctx context.Context, maxAttempts, limit int) ([]scraper.Job, error) {
	query := `SELECT ` + prefixed("j", jobColumns) + ` FROM jobs j
		JOIN targets t ON t.id = j.target_id
		WHERE j.status = 'failed' AND NOT j.retry_issued AND j.attempt < $1 AND t.status = 'active'
		ORDER BY j.id
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, maxAttempts, limitArg(limit))
	if err != nil {
		return nil, wrap("list retry candidates", err)
	}
	return collect(rows, "list retry candidates", scanJob)
}

// ClaimRetry marks a failed job as having issued its retry.
func (s *Store) ClaimRetry(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE jobs SET retry_issued = TRUE WHERE id = $1 AND status = 'failed' AND NOT retry_issued`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, wrap("claim retry", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListStaleJobs returns pending jobs scheduled before cutoff, or running
// jobs started before it.
func (s *Store) ListStaleJobs(ctx context.Context, status scraper.JobStatus, before time.Time, limit int) ([]scraper.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE status = $1
			AND (CASE WHEN status = 'running' THEN COALESCE(started_at, scheduled_at) ELSE scheduled_at END) < $2
		ORDER BY id
		LIMIT $3`
	rows, err := s.pool.Query(ctx, query, status, before, limitArg(limit))
	if err != nil {
		return nil, wrap("list stale jobs", err)
	}
	return collect(rows, "list stale jobs", scanJob)
}
