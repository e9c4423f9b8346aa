// Package cleanup removes aged scraping data: archived records, journal
// entries and daily rollups.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/target-scraper/internal/metrics"
	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// Default retention windows in days.
const (
	DefaultDaysToKeep        = 30
	DefaultMetricsDaysToKeep = 90
)

// Options sets the retention windows. Zero values fall back to the defaults;
// LogDaysToKeep falls back to DaysToKeep.
type Options struct {
	DaysToKeep        int
	LogDaysToKeep     int
	MetricsDaysToKeep int
}

func (o Options) withDefaults() Options {
	if o.DaysToKeep <= 0 {
		o.DaysToKeep = DefaultDaysToKeep
	}
	if o.LogDaysToKeep <= 0 {
		o.LogDaysToKeep = o.DaysToKeep
	}
	if o.MetricsDaysToKeep <= 0 {
		o.MetricsDaysToKeep = DefaultMetricsDaysToKeep
	}
	return o
}

// Result counts what a run deleted.
type Result struct {
	RecordsDeleted int64 `json:"records_deleted"`
	LogsDeleted    int64 `json:"logs_deleted"`
	MetricsDeleted int64 `json:"metrics_deleted"`
}

// Service applies the retention policy.
type Service struct {
	store  scraper.RetentionStore
	clock  scraper.Clock
	logger *zap.Logger
}

// New constructs a Service.
func New(store scraper.RetentionStore, clock scraper.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, clock: clock, logger: logger}
}

// Run deletes data older than the configured windows. Every category is
// attempted; all failures are joined and returned alongside the partial result.
func (s *Service) Run(ctx context.Context, opts Options) (Result, error) {
	opts = opts.withDefaults()
	now := s.clock.Now()
	var (
		res  Result
		errs []error
	)

	n, err := s.store.DeleteArchivedRecords(ctx, cutoff(now, opts.DaysToKeep))
	if err != nil {
		errs = append(errs, fmt.Errorf("delete archived records: %w", err))
	}
	res.RecordsDeleted = n
	metrics.ObserveCleanup("records", n)

	n, err = s.store.DeleteLogsBefore(ctx, cutoff(now, opts.LogDaysToKeep))
	if err != nil {
		errs = append(errs, fmt.Errorf("delete logs: %w", err))
	}
	res.LogsDeleted = n
	metrics.ObserveCleanup("logs", n)

	n, err = s.store.DeleteMetricsBefore(ctx, cutoff(now, opts.MetricsDaysToKeep))
	if err != nil {
		errs = append(errs, fmt.Errorf("delete metrics: %w", err))
	}
	res.MetricsDeleted = n
	metrics.ObserveCleanup("metrics", n)

	if len(errs) > 0 {
		err := errors.Join(errs...)
		s.logger.Error("cleanup incomplete", zap.Error(err),
			zap.Int64("records_deleted", res.RecordsDeleted),
			zap.Int64("logs_deleted", res.LogsDeleted),
			zap.Int64("metrics_deleted", res.MetricsDeleted))
		return res, err
	}
	s.logger.Info("cleanup finished",
		zap.Int64("records_deleted", res.RecordsDeleted),
		zap.Int64("logs_deleted", res.LogsDeleted),
		zap.Int64("metrics_deleted", res.MetricsDeleted))
	return res, nil
}

func cutoff(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}
