package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// TickResult summarizes one scheduling pass.
type TickResult struct {
	Due         int
	Dispatched  int
	RateLimited int
	Raced       int
	Failed      int
}

// Tick dispatches a job for every active target whose next run is due.
// Rate-limited targets are left for a later tick; a target whose schedule
// another tick already advanced is skipped.
func (o *Orchestrator) Tick(ctx context.Context) (TickResult, error) {
	now := o.clock.Now()
	due, err := o.store.ListDueTargets(ctx, now, o.cfg.BatchSize)
	if err != nil {
		return TickResult{}, fmt.Errorf("list due targets: %w", err)
	}
	res := TickResult{Due: len(due)}
	for _, target := range due {
		if ctx.Err() != nil {
			return res, fmt.Errorf("tick interrupted: %w", ctx.Err())
		}
		switch err := o.dispatchScheduled(ctx, target); {
		case err == nil:
			res.Dispatched++
		case errors.Is(err, errRateLimited):
			res.RateLimited++
		case errors.Is(err, errScheduleRaced):
			res.Raced++
		default:
			res.Failed++
			o.logger.Error("dispatch failed", zap.Int64("target_id", target.ID), zap.Error(err))
		}
	}
	if res.Due > 0 {
		o.logger.Info("scheduling tick",
			zap.Int("due", res.Due),
			zap.Int("dispatched", res.Dispatched),
			zap.Int("rate_limited", res.RateLimited),
			zap.Int("raced", res.Raced),
			zap.Int("failed", res.Failed),
		)
	}
	return res, nil
}

var (
	errRateLimited   = errors.New("rate limited")
	errScheduleRaced = errors.New("schedule already advanced")
)

// dispatchScheduled claims the run before reserving budget, so a tick that
// loses the claim never spends an hourly slot. A denied reservation releases
// the claim and leaves the target due for the next tick.
func (o *Orchestrator) dispatchScheduled(ctx context.Context, target scraper.Target) error {
	if target.NextRunAt == nil {
		return errScheduleRaced
	}
	now := o.clock.Now()
	observed := *target.NextRunAt
	next := scraper.NextRun(target, now)
	advanced, err := o.store.AdvanceSchedule(ctx, target.ID, observed, now, next)
	if err != nil {
		return fmt.Errorf("advance schedule: %w", err)
	}
	if !advanced {
		return errScheduleRaced
	}

	reserved, err := o.gate.TryReserve(ctx, target)
	if err != nil || !reserved {
		if _, relErr := o.store.ReleaseSchedule(ctx, target.ID, next, target.LastRunAt, observed); relErr != nil {
			o.logger.Warn("release schedule claim", zap.Int64("target_id", target.ID), zap.Error(relErr))
		}
		if err != nil {
			return fmt.Errorf("reserve: %w", err)
		}
		o.logger.Debug("target rate limited; deferring", zap.Int64("target_id", target.ID))
		return errRateLimited
	}

	_, err = o.createAndEnqueue(ctx, target, scraper.Job{
		Type:        scraper.JobTypeScheduled,
		ScheduledAt: now,
		Attempt:     1,
	})
	return err
}

// RunNow creates and enqueues a manual job. Disabled targets are refused
// and an exhausted rate limit yields a ComplianceError without creating a job.
func (o *Orchestrator) RunNow(ctx context.Context, targetID int64) (scraper.Job, error) {
	target, err := o.store.GetTarget(ctx, targetID)
	if err != nil {
		return scraper.Job{}, fmt.Errorf("get target: %w", err)
	}
	if target.Status == scraper.TargetStatusDisabled {
		return scraper.Job{}, scraper.ErrTargetDisabled
	}
	reserved, err := o.gate.TryReserve(ctx, target)
	if err != nil {
		return scraper.Job{}, fmt.Errorf("reserve: %w", err)
	}
	if !reserved {
		return scraper.Job{}, &scraper.ComplianceError{Reason: scraper.ComplianceRateLimit, URL: target.URL}
	}
	now := o.clock.Now()
	job, err := o.createAndEnqueue(ctx, target, scraper.Job{
		Type:        scraper.JobTypeManual,
		ScheduledAt: now,
		Attempt:     1,
	})
	if err != nil {
		return job, err
	}
	o.logger.Info("manual job dispatched", zap.Int64("target_id", target.ID), zap.Int64("job_id", job.ID))
	return job, nil
}
