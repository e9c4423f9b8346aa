package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/target-scraper/internal/clock/system"
	"github.com/JakeFAU/target-scraper/internal/scraper"
	"github.com/JakeFAU/target-scraper/internal/storage/memory"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func seedRecord(t *testing.T, store *memory.Store, targetID int64, scrapedAt time.Time, status scraper.RecordStatus) int64 {
	t.Helper()
	ctx := context.Background()
	job, err := store.CreateJob(ctx, scraper.Job{TargetID: targetID, Type: scraper.JobTypeManual, ScheduledAt: scrapedAt})
	require.NoError(t, err)
	ok, err := store.StartJob(ctx, job.ID, scrapedAt)
	require.NoError(t, err)
	require.True(t, ok)
	rec := &scraper.ScrapedRecord{URL: "https://example.com", ScrapedAt: scrapedAt, ExtractedFields: scraper.Fields{}}
	ok, err = store.FinishJob(ctx, job.ID, scraper.JobOutcome{Success: true, FinishedAt: scrapedAt}, rec)
	require.NoError(t, err)
	require.True(t, ok)
	for _, to := range []scraper.RecordStatus{scraper.RecordStatusProcessed, scraper.RecordStatusArchived} {
		if status == scraper.RecordStatusRaw || (status == scraper.RecordStatusProcessed && to == scraper.RecordStatusArchived) {
			break
		}
		_, err := store.AdvanceRecord(ctx, rec.ID, to, scrapedAt)
		require.NoError(t, err)
	}
	return rec.ID
}

func TestRunDeletesOnlyAgedArchivedRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	target, err := store.CreateTarget(ctx, scraper.Target{Name: "a", URL: "https://example.com"})
	require.NoError(t, err)

	old := now.AddDate(0, 0, -31)
	oldArchived := seedRecord(t, store, target.ID, old, scraper.RecordStatusArchived)
	oldProcessed := seedRecord(t, store, target.ID, old, scraper.RecordStatusProcessed)
	oldRaw := seedRecord(t, store, target.ID, old, scraper.RecordStatusRaw)
	recentArchived := seedRecord(t, store, target.ID, now.AddDate(0, 0, -29), scraper.RecordStatusArchived)

	svc := New(store, system.NewManual(now), nil)
	res, err := svc.Run(ctx, Options{DaysToKeep: 30})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.RecordsDeleted)

	_, err = store.GetRecord(ctx, oldArchived)
	require.ErrorIs(t, err, scraper.ErrNotFound)
	for _, id := range []int64{oldProcessed, oldRaw, recentArchived} {
		_, err := store.GetRecord(ctx, id)
		require.NoError(t, err)
	}
}

func TestRunDeletesLogsAndMetrics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStore()
	target, err := store.CreateTarget(ctx, scraper.Target{Name: "a", URL: "https://example.com"})
	require.NoError(t, err)

	for _, at := range []time.Time{now.AddDate(0, 0, -10), now.AddDate(0, 0, -3), now} {
		_, err := store.AppendLog(ctx, scraper.LogEntry{TargetID: target.ID, Level: scraper.LogLevelInfo, Message: "x", CreatedAt: at})
		require.NoError(t, err)
	}
	for _, day := range []time.Time{now.AddDate(0, 0, -100), now.AddDate(0, 0, -91), now.AddDate(0, 0, -5)} {
		require.NoError(t, store.ApplyMetricDelta(ctx, scraper.MetricDelta{TargetID: target.ID, Date: day, JobsScheduled: 1}))
	}

	core, logs := observer.New(zapcore.InfoLevel)
	svc := New(store, system.NewManual(now), zap.New(core))
	res, err := svc.Run(ctx, Options{DaysToKeep: 30, LogDaysToKeep: 7})
	require.NoError(t, err)
	require.Equal(t, Result{LogsDeleted: 1, MetricsDeleted: 2}, res)

	remaining, err := store.ListLogs(ctx, scraper.LogFilter{TargetID: target.ID})
	require.NoError(t, err)
	require.Len(t, remaining, 2)

	rows, err := store.ListMetrics(ctx, target.ID, now.AddDate(0, 0, -365))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	entries := logs.FilterMessage("cleanup finished").All()
	require.Len(t, entries, 1)
	require.Equal(t, int64(2), entries[0].ContextMap()["metrics_deleted"])
}

type failingStore struct {
	recordsErr error
	metricsErr error
}

func (f failingStore) DeleteArchivedRecords(context.Context, time.Time) (int64, error) {
	return 0, f.recordsErr
}

func (failingStore) DeleteLogsBefore(context.Context, time.Time) (int64, error) { return 4, nil }

func (f failingStore) DeleteMetricsBefore(context.Context, time.Time) (int64, error) {
	if f.metricsErr != nil {
		return 0, f.metricsErr
	}
	return 2, nil
}

func TestRunContinuesPastFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	svc := New(failingStore{recordsErr: boom}, system.NewManual(now), nil)
	res, err := svc.Run(context.Background(), Options{})
	require.ErrorIs(t, err, boom)
	require.Equal(t, Result{LogsDeleted: 4, MetricsDeleted: 2}, res)
}

func TestRunJoinsEveryFailure(t *testing.T) {
	t.Parallel()

	recordsErr := errors.New("records locked")
	metricsErr := errors.New("metrics locked")
	svc := New(failingStore{recordsErr: recordsErr, metricsErr: metricsErr}, system.NewManual(now), nil)
	res, err := svc.Run(context.Background(), Options{})
	require.ErrorIs(t, err, recordsErr)
	require.ErrorIs(t, err, metricsErr)
	require.Equal(t, Result{LogsDeleted: 4}, res)
}

func TestOptionsDefaults(t *testing.T) {
	t.Parallel()

	opts := Options{}.withDefaults()
	require.Equal(t, Options{DaysToKeep: 30, LogDaysToKeep: 30, MetricsDaysToKeep: 90}, opts)

	opts = Options{DaysToKeep: 10}.withDefaults()
	require.Equal(t, 10, opts.LogDaysToKeep)
}
