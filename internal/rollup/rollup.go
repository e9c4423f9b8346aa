// Package rollup keeps the per-target daily metrics and the scrape journal.
// Every event is a single atomic increment against the (target, day) row, so
// events may arrive in any order and from any number of workers.
package rollup

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// Store is the persistence the aggregator needs.
type Store interface {
	ApplyMetricDelta(ctx context.Context, delta scraper.MetricDelta) error
	AppendLog(ctx context.Context, entry scraper.LogEntry) (scraper.LogEntry, error)
}

// Aggregator turns lifecycle events into metric increments and journal entries.
type Aggregator struct {
	store  Store
	clock  scraper.Clock
	logger *zap.Logger
}

// New constructs an Aggregator.
func New(store Store, clock scraper.Clock, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: store, clock: clock, logger: logger}
}

// JobScheduled counts a newly created job.
func (a *Aggregator) JobScheduled(ctx context.Context, job scraper.Job) error {
	return a.apply(ctx, scraper.MetricDelta{
		TargetID:      job.TargetID,
		Date:          job.ScheduledAt,
		JobsScheduled: 1,
	})
}

// JobFinished folds a completed or failed job into its day. Response timing
// only counts for completed jobs.
func (a *Aggregator) JobFinished(ctx context.Context, targetID int64, outcome scraper.JobOutcome) error {
	delta := scraper.MetricDelta{
		TargetID:       targetID,
		Date:           outcome.FinishedAt,
		ItemsExtracted: outcome.ItemsExtracted,
	}
	if outcome.Success {
		delta.JobsCompleted = 1
		delta.ResponseTimeMs = outcome.ResponseTimeMs
	} else {
		delta.JobsFailed = 1
	}
	if outcome.ResponseSizeBytes != nil {
		delta.ResponseBytes = *outcome.ResponseSizeBytes
	}
	return a.apply(ctx, delta)
}

// RecordProcessed counts a record moving from raw to processed.
func (a *Aggregator) RecordProcessed(ctx context.Context, record scraper.ScrapedRecord) error {
	date := a.clock.Now()
	if record.ProcessedAt != nil {
		date = *record.ProcessedAt
	}
	return a.apply(ctx, scraper.MetricDelta{
		TargetID:         record.TargetID,
		Date:             date,
		RecordsProcessed: 1,
	})
}

// Log appends a journal entry, mirrors it to the process log and counts
// errors and warnings for the day.
func (a *Aggregator) Log(ctx context.Context, entry scraper.LogEntry) (scraper.LogEntry, error) {
	if !entry.Level.Valid() {
		entry.Level = scraper.LogLevelInfo
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.clock.Now()
	}
	a.mirror(entry)

	saved, err := a.store.AppendLog(ctx, entry)
	if err != nil {
		return scraper.LogEntry{}, fmt.Errorf("append log: %w", err)
	}

	delta := scraper.MetricDelta{TargetID: entry.TargetID, Date: entry.CreatedAt}
	switch entry.Level {
	case scraper.LogLevelError, scraper.LogLevelCritical:
		delta.Errors = 1
	case scraper.LogLevelWarning:
		delta.Warnings = 1
	default:
		return saved, nil
	}
	if err := a.apply(ctx, delta); err != nil {
		return saved, err
	}
	return saved, nil
}

func (a *Aggregator) apply(ctx context.Context, delta scraper.MetricDelta) error {
	if err := a.store.ApplyMetricDelta(ctx, delta); err != nil {
		return fmt.Errorf("apply metric delta: %w", err)
	}
	return nil
}

func (a *Aggregator) mirror(entry scraper.LogEntry) {
	fields := make([]zap.Field, 0, len(entry.Context)+2)
	fields = append(fields, zap.Int64("target_id", entry.TargetID))
	if entry.JobID != nil {
		fields = append(fields, zap.Int64("job_id", *entry.JobID))
	}
	keys := make([]string, 0, len(entry.Context))
	for k := range entry.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, entry.Context[k]))
	}

	switch entry.Level {
	case scraper.LogLevelDebug:
		a.logger.Debug(entry.Message, fields...)
	case scraper.LogLevelWarning:
		a.logger.Warn(entry.Message, fields...)
	case scraper.LogLevelError:
		a.logger.Error(entry.Message, fields...)
	case scraper.LogLevelCritical:
		a.logger.Error(entry.Message, append(fields, zap.Bool("critical", true))...)
	default:
		a.logger.Info(entry.Message, fields...)
	}
}
