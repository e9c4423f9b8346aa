// Package worker implements the job execution loop over the task queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/target-scraper/internal/metrics"
	"github.com/JakeFAU/target-scraper/internal/queue"
	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// Executor runs one job with the given fetcher.
type Executor interface {
	Execute(ctx context.Context, fetcher scraper.Fetcher, jobID int64) error
}

// Config controls Worker behavior.
type Config struct {
	// ErrorBackoff is the pause after a failed dequeue.
	ErrorBackoff time.Duration
}

// Worker consumes queue deliveries and executes the jobs they name.
type Worker struct {
	queue    scraper.Queue
	executor Executor
	fetcher  scraper.Fetcher
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. The fetcher belongs to this worker alone.
func New(q scraper.Queue, executor Executor, fetcher scraper.Fetcher, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Worker{
		queue:    q,
		executor: executor,
		fetcher:  fetcher,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming deliveries until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		delivery, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if !sleep(ctx, w.cfg.ErrorBackoff) {
				return
			}
			continue
		}
		w.logger.Debug("dequeued job",
			zap.Int64("job_id", delivery.Item.JobID),
			zap.String("delivery_id", delivery.Item.DeliveryID))
		w.handle(ctx, delivery)
	}
}

// handle executes a delivery and settles it. Repository failures nack the
// delivery so the queue tries again; everything else acks.
func (w *Worker) handle(ctx context.Context, delivery scraper.Delivery) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if err := w.execute(ctx, delivery.Item.JobID); err != nil {
		w.logger.Error("job execution failed",
			zap.Int64("job_id", delivery.Item.JobID), zap.Error(err))
		delivery.Nack()
		metrics.ObserveDelivery("nack")
		return
	}
	delivery.Ack()
	metrics.ObserveDelivery("ack")
}

func (w *Worker) execute(ctx context.Context, jobID int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic executing job %d: %v", jobID, r)
		}
	}()
	if err := w.executor.Execute(ctx, w.fetcher, jobID); err != nil {
		return fmt.Errorf("execute job: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
