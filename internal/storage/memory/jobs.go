package memory

import (
	"context"
	"sort"
	"time"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// CreateJob stores a new job. Empty status defaults to pending and attempt to 1.
func (s *Store) CreateJob(_ context.Context, job scraper.Job) (scraper.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[job.TargetID]; !ok {
		return scraper.Job{}, scraper.ErrNotFound
	}
	job.ID = s.nextID()
	if job.Status == "" {
		job.Status = scraper.JobStatusPending
	}
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	job.ScheduledAt = orNow(job.ScheduledAt)
	s.jobs[job.ID] = job
	return job, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(_ context.Context, id int64) (scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return scraper.Job{}, scraper.ErrNotFound
	}
	return job, nil
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(_ context.Context, filter scraper.JobFilter) ([]scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scraper.Job
	for _, job := range s.jobs {
		if filter.TargetID != 0 && job.TargetID != filter.TargetID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return applyLimit(out, filter.Limit), nil
}

// StartJob moves a pending job to running.
func (s *Store) StartJob(_ context.Context, id int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	if job.Status != scraper.JobStatusPending {
		return false, nil
	}
	job.Status = scraper.JobStatusRunning
	job.StartedAt = pointerTime(at)
	s.jobs[id] = job
	return true, nil
}

// FinishJob moves a running job to completed or failed and stores record
// alongside it. A job no longer running is left untouched.
func (s *Store) FinishJob(_ context.Context, id int64, outcome scraper.JobOutcome, record *scraper.ScrapedRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	if job.Status != scraper.JobStatusRunning {
		return false, nil
	}
	if record != nil {
		if _, exists := s.recordByJob[id]; exists {
			return false, scraper.ErrConflict
		}
	}

	success := outcome.Success
	job.Status = outcome.Status()
	job.CompletedAt = pointerTime(outcome.FinishedAt)
	job.Success = &success
	job.ErrorMessage = outcome.ErrorMessage
	job.ItemsExtracted = outcome.ItemsExtracted
	job.ResponseTimeMs = outcome.ResponseTimeMs
	job.ResponseSizeBytes = outcome.ResponseSizeBytes
	s.jobs[id] = job

	if record != nil {
		rec := *record
		rec.ID = s.nextID()
		rec.JobID = id
		rec.TargetID = job.TargetID
		if rec.Status == "" {
			rec.Status = scraper.RecordStatusRaw
		}
		rec.ScrapedAt = orNow(rec.ScrapedAt)
		s.records[rec.ID] = rec
		s.recordByJob[id] = rec.ID
		*record = rec
	}
	return true, nil
}

// CancelJob cancels a pending or running job.
func (s *Store) CancelJob(_ context.Context, id int64, at time.Time, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	if !scraper.CanTransition(job.Status, scraper.JobStatusCancelled) {
		return false, nil
	}
	success := false
	job.Status = scraper.JobStatusCancelled
	job.CompletedAt = pointerTime(at)
	job.Success = &success
	job.ErrorMessage = reason
	s.jobs[id] = job
	return true, nil
}

// ListRetryCandidates returns unclaimed failed jobs below maxAttempts whose
// target is still active, oldest first.
func (s *Store) ListRetryCandidates(_ context.Context, maxAttempts, limit int) ([]scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scraper.Job
	for _, job := range s.jobs {
		if job.Status != scraper.JobStatusFailed || job.RetryIssued || job.Attempt >= maxAttempts {
			continue
		}
		if t, ok := s.targets[job.TargetID]; !ok || t.Status != scraper.TargetStatusActive {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return applyLimit(out, limit), nil
}

// ClaimRetry marks a failed job as having issued its retry.
func (s *Store) ClaimRetry(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	if job.Status != scraper.JobStatusFailed || job.RetryIssued {
		return false, nil
	}
	job.RetryIssued = true
	s.jobs[id] = job
	return true, nil
}

// ListStaleJobs returns pending jobs scheduled before cutoff, or running
// jobs started before it.
func (s *Store) ListStaleJobs(_ context.Context, status scraper.JobStatus, before time.Time, limit int) ([]scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scraper.Job
	for _, job := range s.jobs {
		if job.Status != status {
			continue
		}
		ref := job.ScheduledAt
		if status == scraper.JobStatusRunning && job.StartedAt != nil {
			ref = *job.StartedAt
		}
		if ref.Before(before) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return applyLimit(out, limit), nil
}
