// Package orchestrator drives the job lifecycle: due targets become jobs on
// the queue, workers execute them through the politeness gate, fetcher,
// parser and extraction engine, and the result lands in one conditional
// terminal transition. Failed jobs are retried as new jobs and stuck jobs are
// reaped.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/target-scraper/internal/metrics"
	"github.com/JakeFAU/target-scraper/internal/rollup"
	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// Gate is the politeness gate consulted before every fetch.
type Gate interface {
	IsAllowed(ctx context.Context, rawURL, userAgent string) (bool, error)
	CrawlDelay(ctx context.Context, rawURL, userAgent string) time.Duration
	TryReserve(ctx context.Context, target scraper.Target) (bool, error)
}

// Pacer spaces requests to the same target. Wait reports false when the
// delay was skipped because it would outlast ctx.
type Pacer interface {
	Wait(ctx context.Context, targetID int64, delay time.Duration) (bool, error)
}

// Config tunes the orchestrator.
type Config struct {
	UserAgent      string
	SoftTimeLimit  time.Duration
	HardTimeLimit  time.Duration
	PendingTimeout time.Duration
	MaxAttempts    int
	BatchSize      int
	BlobPrefix     string
	ContentHashTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.SoftTimeLimit <= 0 {
		c.SoftTimeLimit = 4 * time.Minute
	}
	if c.HardTimeLimit <= 0 {
		c.HardTimeLimit = 10 * time.Minute
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = c.HardTimeLimit
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.ContentHashTTL <= 0 {
		c.ContentHashTTL = 24 * time.Hour
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Blobs may be nil.
type Deps struct {
	Store  scraper.Store
	Cache  scraper.Cache
	Queue  scraper.Queue
	Gate   Gate
	Pacer  Pacer
	Blobs  scraper.BlobStore
	Hasher scraper.Hasher
	Clock  scraper.Clock
	IDs    scraper.IDGenerator
	Rollup *rollup.Aggregator
}

// Orchestrator owns job creation and execution.
type Orchestrator struct {
	store  scraper.Store
	cache  scraper.Cache
	queue  scraper.Queue
	gate   Gate
	pacer  Pacer
	blobs  scraper.BlobStore
	hasher scraper.Hasher
	clock  scraper.Clock
	ids    scraper.IDGenerator
	rollup *rollup.Aggregator
	cfg    Config
	logger *zap.Logger
}

// New constructs an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("store is required")
	case deps.Cache == nil:
		return nil, fmt.Errorf("cache is required")
	case deps.Queue == nil:
		return nil, fmt.Errorf("queue is required")
	case deps.Gate == nil:
		return nil, fmt.Errorf("politeness gate is required")
	case deps.Pacer == nil:
		return nil, fmt.Errorf("pacer is required")
	case deps.Hasher == nil || deps.Clock == nil || deps.IDs == nil:
		return nil, fmt.Errorf("hasher, clock and id generator are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	agg := deps.Rollup
	if agg == nil {
		agg = rollup.New(deps.Store, deps.Clock, logger.Named("rollup"))
	}
	return &Orchestrator{
		store:  deps.Store,
		cache:  deps.Cache,
		queue:  deps.Queue,
		gate:   deps.Gate,
		pacer:  deps.Pacer,
		blobs:  deps.Blobs,
		hasher: deps.Hasher,
		clock:  deps.Clock,
		ids:    deps.IDs,
		rollup: agg,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}, nil
}

// createAndEnqueue persists a pending job, journals it and hands it to the
// queue. An enqueue failure fails the job so the retry sweep can pick it up.
func (o *Orchestrator) createAndEnqueue(ctx context.Context, target scraper.Target, job scraper.Job) (scraper.Job, error) {
	job.TargetID = target.ID
	job.Status = scraper.JobStatusPending
	created, err := o.store.CreateJob(ctx, job)
	if err != nil {
		return scraper.Job{}, fmt.Errorf("create job: %w", err)
	}
	if err := o.rollup.JobScheduled(ctx, created); err != nil {
		o.logger.Warn("count scheduled job", zap.Int64("job_id", created.ID), zap.Error(err))
	}
	o.journal(ctx, target.ID, &created.ID, scraper.LogLevelInfo, fmt.Sprintf("Scheduled %s job", created.Type), map[string]any{
		"attempt":  created.Attempt,
		"job_type": string(created.Type),
	})

	if err := o.enqueue(ctx, created.ID); err != nil {
		o.logger.Error("enqueue failed", zap.Int64("job_id", created.ID), zap.Error(err))
		o.failPending(ctx, created, fmt.Sprintf("enqueue failed: %v", err))
		return created, fmt.Errorf("enqueue job %d: %w", created.ID, err)
	}
	metrics.ObserveDispatch(string(created.Type))
	return created, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, jobID int64) error {
	deliveryID, err := o.ids.NewID()
	if err != nil {
		return fmt.Errorf("delivery id: %w", err)
	}
	return o.queue.Enqueue(ctx, scraper.WorkItem{
		JobID:      jobID,
		DeliveryID: deliveryID,
		EnqueuedAt: o.clock.Now(),
	})
}

// failPending walks a pending job through running to failed, the only
// route the lifecycle allows.
func (o *Orchestrator) failPending(ctx context.Context, job scraper.Job, message string) {
	now := o.clock.Now()
	started, err := o.store.StartJob(ctx, job.ID, now)
	if err != nil || !started {
		if err != nil {
			o.logger.Error("start job for failure", zap.Int64("job_id", job.ID), zap.Error(err))
		}
		return
	}
	o.finish(ctx, job, scraper.JobOutcome{ErrorMessage: message, FinishedAt: now}, nil)
}

// finish applies the terminal transition and, only when it took effect,
// journals it and updates the rollups.
func (o *Orchestrator) finish(ctx context.Context, job scraper.Job, outcome scraper.JobOutcome, record *scraper.ScrapedRecord) bool {
	finished, err := o.store.FinishJob(ctx, job.ID, outcome, record)
	if err != nil {
		o.logger.Error("finish job", zap.Int64("job_id", job.ID), zap.Error(err))
		return false
	}
	if !finished {
		o.logger.Info("job no longer running; result discarded", zap.Int64("job_id", job.ID))
		return false
	}
	metrics.ObserveJob(string(job.Type), string(outcome.Status()))
	if err := o.rollup.JobFinished(ctx, job.TargetID, outcome); err != nil {
		o.logger.Warn("count finished job", zap.Int64("job_id", job.ID), zap.Error(err))
	}
	if outcome.Success {
		o.journal(ctx, job.TargetID, &job.ID, scraper.LogLevelInfo, "Scraping completed", map[string]any{
			"items_extracted": outcome.ItemsExtracted,
		})
	} else {
		o.journal(ctx, job.TargetID, &job.ID, scraper.LogLevelError, outcome.ErrorMessage, map[string]any{
			"attempt": job.Attempt,
		})
	}
	return true
}

// journal writes a log entry; journaling failures never affect the job.
func (o *Orchestrator) journal(ctx context.Context, targetID int64, jobID *int64, level scraper.LogLevel, message string, fields map[string]any) {
	_, err := o.rollup.Log(ctx, scraper.LogEntry{
		TargetID: targetID,
		JobID:    jobID,
		Level:    level,
		Message:  message,
		Context:  fields,
	})
	if err != nil {
		o.logger.Warn("journal write failed", zap.Int64("target_id", targetID), zap.Error(err))
	}
}
