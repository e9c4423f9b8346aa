package memory

import (
	"context"
	"sort"
	"time"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// GetRecord fetches a scraped record by id.
func (s *Store) GetRecord(_ context.Context, id int64) (scraper.ScrapedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return scraper.ScrapedRecord{}, scraper.ErrNotFound
	}
	return rec, nil
}

// GetRecordByJob fetches the record produced by a job.
func (s *Store) GetRecordByJob(_ context.Context, jobID int64) (scraper.ScrapedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.recordByJob[jobID]
	if !ok {
		return scraper.ScrapedRecord{}, scraper.ErrNotFound
	}
	return s.records[id], nil
}

// AdvanceRecord moves a record one step forward in its lifecycle.
func (s *Store) AdvanceRecord(_ context.Context, id int64, to scraper.RecordStatus, at time.Time) (scraper.ScrapedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return scraper.ScrapedRecord{}, scraper.ErrNotFound
	}
	from, ok := scraper.PreviousRecordStatus(to)
	if !ok || rec.Status != from {
		return scraper.ScrapedRecord{}, scraper.ErrInvalidTransition
	}
	rec.Status = to
	if to == scraper.RecordStatusProcessed {
		rec.ProcessedAt = pointerTime(at)
	}
	s.records[id] = rec
	return rec, nil
}

// ApplyMetricDelta adds delta to the (target, day) rollup row, creating it if needed.
func (s *Store) ApplyMetricDelta(_ context.Context, delta scraper.MetricDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := scraper.Date(delta.Date)
	key := metricKey{targetID: delta.TargetID, date: day}
	m, ok := s.metrics[key]
	if !ok {
		m = scraper.DailyMetric{TargetID: delta.TargetID, Date: day}
	}
	m.JobsScheduled += delta.JobsScheduled
	m.JobsCompleted += delta.JobsCompleted
	m.JobsFailed += delta.JobsFailed
	m.ItemsExtracted += delta.ItemsExtracted
	m.RecordsProcessed += delta.RecordsProcessed
	m.TotalResponseBytes += delta.ResponseBytes
	m.ErrorCount += delta.Errors
	m.WarningCount += delta.Warnings
	if delta.ResponseTimeMs != nil {
		old := 0.0
		if m.AvgResponseTimeMs != nil {
			old = *m.AvgResponseTimeMs
		}
		n := float64(m.ResponseTimeSamples)
		avg := (old*n + float64(*delta.ResponseTimeMs)) / (n + 1)
		m.AvgResponseTimeMs = &avg
		m.ResponseTimeSamples++
	}
	s.metrics[key] = m
	return nil
}

// ListMetrics returns a target's rollups from since's day onward, oldest first.
func (s *Store) ListMetrics(_ context.Context, targetID int64, since time.Time) ([]scraper.DailyMetric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	from := scraper.Date(since)
	var out []scraper.DailyMetric
	for key, m := range s.metrics {
		if key.targetID == targetID && !key.date.Before(from) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// AppendLog adds a journal entry.
func (s *Store) AppendLog(_ context.Context, entry scraper.LogEntry) (scraper.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = s.nextID()
	entry.CreatedAt = orNow(entry.CreatedAt)
	s.logs = append(s.logs, entry)
	return entry, nil
}

// ListLogs returns matching entries newest first.
func (s *Store) ListLogs(_ context.Context, filter scraper.LogFilter) ([]scraper.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scraper.LogEntry
	for i := len(s.logs) - 1; i >= 0; i-- {
		entry := s.logs[i]
		if filter.TargetID != 0 && entry.TargetID != filter.TargetID {
			continue
		}
		if filter.JobID != nil && (entry.JobID == nil || *entry.JobID != *filter.JobID) {
			continue
		}
		if filter.Level != "" && entry.Level != filter.Level {
			continue
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return applyLimit(out, filter.Limit), nil
}

// DeleteArchivedRecords removes archived records scraped before the cutoff.
func (s *Store) DeleteArchivedRecords(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, rec := range s.records {
		if rec.Status == scraper.RecordStatusArchived && rec.ScrapedAt.Before(before) {
			delete(s.records, id)
			delete(s.recordByJob, rec.JobID)
			n++
		}
	}
	return n, nil
}

// DeleteLogsBefore removes journal entries created before the cutoff.
func (s *Store) DeleteLogsBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.logs[:0]
	var n int64
	for _, entry := range s.logs {
		if entry.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, entry)
	}
	s.logs = kept
	return n, nil
}

// DeleteMetricsBefore removes rollups dated before the cutoff's day.
func (s *Store) DeleteMetricsBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := scraper.Date(before)
	var n int64
	for key := range s.metrics {
		if key.date.Before(cutoff) {
			delete(s.metrics, key)
			n++
		}
	}
	return n, nil
}
