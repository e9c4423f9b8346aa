// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/target-scraper/internal/scraper"
	"github.com/JakeFAU/target-scraper/internal/worker"
)

// Fetcher is a per-worker fetch client that holds connections until closed.
type Fetcher interface {
	scraper.Fetcher
	Close()
}

// FetcherFactory builds the fetcher for the worker at index.
type FetcherFactory func(index int) Fetcher

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue      scraper.Queue
	executor   worker.Executor
	newFetcher FetcherFactory
	size       int
	cfg        worker.Config
	logger     *zap.Logger
}

// New creates a Dispatcher running size workers.
func New(
	q scraper.Queue,
	executor worker.Executor,
	newFetcher FetcherFactory,
	size int,
	cfg worker.Config,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if q == nil || executor == nil || newFetcher == nil {
		return nil, errors.New("dispatcher: queue, executor and fetcher factory are required")
	}
	if size <= 0 {
		return nil, fmt.Errorf("dispatcher: worker count must be positive, got %d", size)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:      q,
		executor:   executor,
		newFetcher: newFetcher,
		size:       size,
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// Run starts all workers and blocks until they stop. Each worker's fetcher
// is closed when that worker returns.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.size; i++ {
		fetcher := d.newFetcher(i)
		logger := d.logger.Named("worker").With(zap.Int("index", i))
		w := worker.New(d.queue, d.executor, fetcher, d.cfg, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer fetcher.Close()
			w.Run(ctx)
		}()
	}
	d.logger.Info("workers started", zap.Int("count", d.size))
	wg.Wait()
	d.logger.Info("workers stopped")
}
