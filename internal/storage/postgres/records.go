package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

const recordColumns = `id, job_id, target_id, url, title, content, raw_body, extracted_fields, metadata,
	parse_error, content_hash, blob_uri, http_status, content_type, scraped_at, processed_at, status`

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func scanRecord(row scanner) (scraper.ScrapedRecord, error) {
	var (
		r        scraper.ScrapedRecord
		fields   []byte
		metadata []byte
	)
	err := row.Scan(
		&r.ID, &r.JobID, &r.TargetID, &r.URL, &r.Title, &r.Content, &r.RawBody, &fields, &metadata,
		&r.ParseError, &r.ContentHash, &r.BlobURI, &r.HTTPStatus, &r.ContentType, &r.ScrapedAt, &r.ProcessedAt,
		&r.Status,
	)
	if err != nil {
		return r, err
	}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &r.ExtractedFields); err != nil {
			return r, fmt.Errorf("decode extracted fields: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
			return r, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return r, nil
}

// GetRecord fetches a scraped record by id.
func (s *Store) GetRecord(ctx context.Context, id int64) (scraper.ScrapedRecord, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM scraped_records WHERE id = $1`, id))
	if err != nil {
		return scraper.ScrapedRecord{}, wrap("get record", err)
	}
	return r, nil
}

// GetRecordByJob fetches the record produced by a job.
func (s *Store) GetRecordByJob(ctx context.Context, jobID int64) (scraper.ScrapedRecord, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM scraped_records WHERE job_id = $1`, jobID))
	if err != nil {
		return scraper.ScrapedRecord{}, wrap("get record by job", err)
	}
	return r, nil
}

// AdvanceRecord moves a record one step forward in its lifecycle.
func (s *Store) AdvanceRecord(ctx context.Context, id int64, to scraper.RecordStatus, at time.Time) (scraper.ScrapedRecord, error) {
	from, ok := scraper.PreviousRecordStatus(to)
	if !ok {
		return scraper.ScrapedRecord{}, scraper.ErrInvalidTransition
	}
	query := `
		UPDATE scraped_records SET status = $2,
			processed_at = CASE WHEN $2::text = 'processed' THEN $3::timestamptz ELSE processed_at END
		WHERE id = $1 AND status = $4
		RETURNING ` + recordColumns
	r, err := scanRecord(s.pool.QueryRow(ctx, query, id, string(to), at, string(from)))
	if err == nil {
		return r, nil
	}
	mapped := wrap("advance record", err)
	if !errors.Is(mapped, scraper.ErrNotFound) {
		return scraper.ScrapedRecord{}, mapped
	}
	if _, getErr := s.GetRecord(ctx, id); getErr != nil {
		return scraper.ScrapedRecord{}, getErr
	}
	return scraper.ScrapedRecord{}, scraper.ErrInvalidTransition
}

// DeleteArchivedRecords removes archived records scraped before the cutoff.
func (s *Store) DeleteArchivedRecords(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scraped_records WHERE status = 'archived' AND scraped_at < $1`, before)
	if err != nil {
		return 0, wrap("delete archived records", err)
	}
	return tag.RowsAffected(), nil
}
