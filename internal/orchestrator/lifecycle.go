package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/target-scraper/internal/metrics"
	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// RetryFailed issues one retry job per eligible failed job. The failed job
// is claimed before the gate is consulted, so a denied reservation leaves it
// claimed and it is not retried again.
func (o *Orchestrator) RetryFailed(ctx context.Context) (int, error) {
	candidates, err := o.store.ListRetryCandidates(ctx, o.cfg.MaxAttempts, o.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list retry candidates: %w", err)
	}
	issued := 0
	for _, failedJob := range candidates {
		if ctx.Err() != nil {
			return issued, fmt.Errorf("retry sweep interrupted: %w", ctx.Err())
		}
		ok, err := o.retryOne(ctx, failedJob)
		if err != nil {
			o.logger.Error("retry failed job", zap.Int64("job_id", failedJob.ID), zap.Error(err))
			continue
		}
		if ok {
			issued++
		}
	}
	if issued > 0 {
		o.logger.Info("retries issued", zap.Int("count", issued))
	}
	return issued, nil
}

func (o *Orchestrator) retryOne(ctx context.Context, failedJob scraper.Job) (bool, error) {
	claimed, err := o.store.ClaimRetry(ctx, failedJob.ID)
	if err != nil {
		return false, fmt.Errorf("claim retry: %w", err)
	}
	if !claimed {
		return false, nil
	}
	target, err := o.store.GetTarget(ctx, failedJob.TargetID)
	if err != nil {
		return false, fmt.Errorf("get target: %w", err)
	}
	reserved, err := o.gate.TryReserve(ctx, target)
	if err != nil {
		return false, fmt.Errorf("reserve: %w", err)
	}
	if !reserved {
		o.journal(ctx, target.ID, &failedJob.ID, scraper.LogLevelWarning, "retry skipped: rate limit exceeded", nil)
		return false, nil
	}
	retryOf := failedJob.ID
	_, err = o.createAndEnqueue(ctx, target, scraper.Job{
		Type:        scraper.JobTypeRetry,
		ScheduledAt: o.clock.Now(),
		RetryOf:     &retryOf,
		Attempt:     failedJob.Attempt + 1,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Cancel stops a pending or running job. Cancellation is advisory: a running
// fetch completes but its result is discarded.
func (o *Orchestrator) Cancel(ctx context.Context, jobID int64) (scraper.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return scraper.Job{}, fmt.Errorf("get job: %w", err)
	}
	cancelled, err := o.store.CancelJob(ctx, jobID, o.clock.Now(), "Cancelled by operator")
	if err != nil {
		return scraper.Job{}, fmt.Errorf("cancel job: %w", err)
	}
	if !cancelled {
		return job, scraper.ErrInvalidTransition
	}
	metrics.ObserveJob(string(job.Type), string(scraper.JobStatusCancelled))
	o.journal(ctx, job.TargetID, &job.ID, scraper.LogLevelInfo, "Job cancelled", nil)
	return o.store.GetJob(ctx, jobID)
}

// ReapResult summarizes one reaper pass.
type ReapResult struct {
	Failed     int
	Requeued   int
	Unresolved int
}

// ReapStale fails running jobs past the hard time limit and re-enqueues
// pending jobs that no worker picked up in time, covering lost deliveries.
func (o *Orchestrator) ReapStale(ctx context.Context) (ReapResult, error) {
	now := o.clock.Now()
	var res ReapResult

	running, err := o.store.ListStaleJobs(ctx, scraper.JobStatusRunning, now.Add(-o.cfg.HardTimeLimit), o.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list stale running jobs: %w", err)
	}
	for _, job := range running {
		if o.finish(ctx, job, scraper.JobOutcome{ErrorMessage: hardLimitMessage, FinishedAt: now}, nil) {
			res.Failed++
		} else {
			res.Unresolved++
		}
	}

	pending, err := o.store.ListStaleJobs(ctx, scraper.JobStatusPending, now.Add(-o.cfg.PendingTimeout), o.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("list stale pending jobs: %w", err)
	}
	for _, job := range pending {
		if err := o.enqueue(ctx, job.ID); err != nil {
			o.logger.Warn("re-enqueue stale job", zap.Int64("job_id", job.ID), zap.Error(err))
			res.Unresolved++
			continue
		}
		res.Requeued++
	}
	if res != (ReapResult{}) {
		o.logger.Info("reaped stale jobs",
			zap.Int("failed", res.Failed),
			zap.Int("requeued", res.Requeued),
			zap.Int("unresolved", res.Unresolved),
		)
	}
	return res, nil
}

// ProcessRecord moves a record from raw to processed and counts it.
func (o *Orchestrator) ProcessRecord(ctx context.Context, recordID int64) (scraper.ScrapedRecord, error) {
	record, err := o.store.AdvanceRecord(ctx, recordID, scraper.RecordStatusProcessed, o.clock.Now())
	if err != nil {
		return scraper.ScrapedRecord{}, fmt.Errorf("process record: %w", err)
	}
	if err := o.rollup.RecordProcessed(ctx, record); err != nil {
		o.logger.Warn("count processed record", zap.Int64("record_id", record.ID), zap.Error(err))
	}
	return record, nil
}

// ArchiveRecord moves a processed record to archived, making it eligible
// for cleanup.
func (o *Orchestrator) ArchiveRecord(ctx context.Context, recordID int64) (scraper.ScrapedRecord, error) {
	record, err := o.store.AdvanceRecord(ctx, recordID, scraper.RecordStatusArchived, o.clock.Now())
	if err != nil {
		return scraper.ScrapedRecord{}, fmt.Errorf("archive record: %w", err)
	}
	return record, nil
}
