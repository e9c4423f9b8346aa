// Package periodic runs the background sweeps (scheduling tick, retry,
// stale reaping, cleanup) as independent cron entries. An entry that is
// still running when its next activation arrives is skipped.
package periodic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// TaskFunc is one sweep.
type TaskFunc func(ctx context.Context) error

// Runner owns the cron scheduler.
type Runner struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu  sync.RWMutex
	ctx context.Context
}

// New constructs a Runner. Specs use the standard five-field cron syntax
// or descriptors such as "@every 1m".
func New(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger: logger.Named("cron").Sugar()}
	return &Runner{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    context.Background(),
	}
}

// Add registers a named task on spec.
func (r *Runner) Add(name, spec string, task TaskFunc) error {
	_, err := r.cron.AddFunc(spec, func() {
		r.run(name, task)
	})
	if err != nil {
		return fmt.Errorf("add %s task %q: %w", name, spec, err)
	}
	r.logger.Info("periodic task registered", zap.String("task", name), zap.String("spec", spec))
	return nil
}

// Len reports the number of registered tasks.
func (r *Runner) Len() int {
	return len(r.cron.Entries())
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// in-flight tasks to return.
func (r *Runner) Run(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()

	r.cron.Start()
	<-ctx.Done()
	stopped := r.cron.Stop()
	<-stopped.Done()
	r.logger.Info("periodic runner stopped")
}

func (r *Runner) run(name string, task TaskFunc) {
	r.mu.RLock()
	ctx := r.ctx
	r.mu.RUnlock()
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := task(ctx)
	fields := []zap.Field{zap.String("task", name), zap.Duration("duration", time.Since(start))}
	if err != nil {
		r.logger.Error("periodic task failed", append(fields, zap.Error(err))...)
		return
	}
	r.logger.Debug("periodic task finished", fields...)
}

// cronLogger adapts zap to cron.Logger. Cron's own chatter goes to debug.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
