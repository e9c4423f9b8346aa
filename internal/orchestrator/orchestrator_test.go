package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cachememory "github.com/JakeFAU/target-scraper/internal/cache/memory"
	"github.com/JakeFAU/target-scraper/internal/clock/system"
	"github.com/JakeFAU/target-scraper/internal/hash/sha256"
	"github.com/JakeFAU/target-scraper/internal/politeness"
	queuememory "github.com/JakeFAU/target-scraper/internal/queue/memory"
	"github.com/JakeFAU/target-scraper/internal/scraper"
	"github.com/JakeFAU/target-scraper/internal/storage/memory"
)

type fakeGate struct {
	mu        sync.Mutex
	denyRobot bool
	denyRate  bool
	delay     time.Duration
	reserves  int
}

func (g *fakeGate) IsAllowed(context.Context, string, string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.denyRobot, nil
}

func (g *fakeGate) CrawlDelay(context.Context, string, string) time.Duration {
	return g.delay
}

func (g *fakeGate) TryReserve(context.Context, scraper.Target) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reserves++
	return !g.denyRate, nil
}

type fakePacer struct {
	waits atomic.Int32
	last  atomic.Int64
}

func (p *fakePacer) Wait(_ context.Context, _ int64, delay time.Duration) (bool, error) {
	p.waits.Add(1)
	p.last.Store(int64(delay))
	return true, nil
}

type fakeFetcher struct {
	calls atomic.Int32
	fetch func(ctx context.Context, req scraper.FetchRequest) (scraper.FetchResponse, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, req scraper.FetchRequest) (scraper.FetchResponse, error) {
	f.calls.Add(1)
	return f.fetch(ctx, req)
}

func htmlFetcher(body string) *fakeFetcher {
	return &fakeFetcher{fetch: func(_ context.Context, req scraper.FetchRequest) (scraper.FetchResponse, error) {
		return scraper.FetchResponse{
			URL:         req.URL,
			StatusCode:  200,
			Body:        []byte(body),
			ContentType: "text/html; charset=utf-8",
			Kind:        scraper.ContentKindHTML,
			Duration:    120 * time.Millisecond,
			Attempts:    1,
		}, nil
	}}
}

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return "delivery-" + time.Duration(s.n.Add(1)).String(), nil
}

type harness struct {
	orch  *Orchestrator
	store *memory.Store
	queue *queuememory.Queue
	clock *system.Manual
	gate  *fakeGate
	pacer *fakePacer
	blobs *memory.BlobStore
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	return newHarnessWithPacer(t, cfg, nil)
}

// newHarnessWithPacer uses pacer in place of the recording fake when set.
func newHarnessWithPacer(t *testing.T, cfg Config, pacer Pacer) *harness {
	t.Helper()
	h := &harness{
		store: memory.NewStore(),
		queue: queuememory.NewQueue(64),
		clock: system.NewManual(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
		gate:  &fakeGate{},
		pacer: &fakePacer{},
		blobs: memory.NewBlobStore(),
	}
	if pacer == nil {
		pacer = h.pacer
	}
	orch, err := New(Deps{
		Store:  h.store,
		Cache:  cachememory.New(),
		Queue:  h.queue,
		Gate:   h.gate,
		Pacer:  pacer,
		Blobs:  h.blobs,
		Hasher: sha256.New(),
		Clock:  h.clock,
		IDs:    &seqIDs{},
	}, cfg, zap.NewNop())
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *harness) target(t *testing.T, mutate func(*scraper.Target)) scraper.Target {
	t.Helper()
	next := h.clock.Now().Add(-time.Minute)
	target := scraper.Target{
		Name:               "news",
		URL:                "https://example.com/news",
		Status:             scraper.TargetStatusActive,
		Frequency:          scraper.FrequencyHourly,
		DelaySeconds:       2,
		MaxRequestsPerHour: 100,
		RespectRobots:      true,
		NextRunAt:          &next,
	}
	if mutate != nil {
		mutate(&target)
	}
	created, err := h.store.CreateTarget(context.Background(), target)
	require.NoError(t, err)
	return created
}

func (h *harness) rule(t *testing.T, targetID int64, name, selector string, priority int) {
	t.Helper()
	_, err := h.store.UpsertRule(context.Background(), scraper.Rule{
		TargetID: targetID, Name: name, Kind: scraper.RuleKindSelector, Selector: selector,
		ValueKind: scraper.ValueKindText, Priority: priority, Active: true,
	})
	require.NoError(t, err)
}

func (h *harness) pendingJob(t *testing.T, targetID int64) scraper.Job {
	t.Helper()
	job, err := h.store.CreateJob(context.Background(), scraper.Job{
		TargetID: targetID, Type: scraper.JobTypeManual, ScheduledAt: h.clock.Now(),
	})
	require.NoError(t, err)
	return job
}

func (h *harness) metric(t *testing.T, targetID int64) scraper.DailyMetric {
	t.Helper()
	rows, err := h.store.ListMetrics(context.Background(), targetID, h.clock.Now())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0]
}

func (h *harness) logMessages(t *testing.T, targetID int64) []string {
	t.Helper()
	entries, err := h.store.ListLogs(context.Background(), scraper.LogFilter{TargetID: targetID})
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message)
	}
	return out
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{}, nil)
	require.Error(t, err)
}

func TestTickDispatchesDueTargets(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()
	target := h.target(t, nil)
	h.target(t, func(tg *scraper.Target) {
		tg.Name = "paused"
		tg.Status = scraper.TargetStatusPaused
	})
	now := h.clock.Now()

	res, err := h.orch.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, TickResult{Due: 1, Dispatched: 1}, res)

	updated, err := h.store.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	require.Equal(t, now, *updated.LastRunAt)
	require.Equal(t, now.Add(time.Hour), *updated.NextRunAt)

	jobs, err := h.store.ListJobs(ctx, scraper.JobFilter{TargetID: target.ID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, scraper.JobStatusPending, jobs[0].Status)
	require.Equal(t, scraper.JobTypeScheduled, jobs[0].Type)
	require.Equal(t, 1, h.queue.Len())
	require.Equal(t, 1, h.metric(t, target.ID).JobsScheduled)

	res, err = h.orch.Tick(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Due)
}

func TestTickNextRunStrictlyIncreases(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()
	target := h.target(t, func(tg *scraper.Target) {
		tg.Frequency = scraper.FrequencyCustom
		minutes := 15
		tg.CustomIntervalMinutes = &minutes
	})

	var previous time.Time
	for range 3 {
		_, err := h.orch.Tick(ctx)
		require.NoError(t, err)
		got, err := h.store.GetTarget(ctx, target.ID)
		require.NoError(t, err)
		require.Equal(t, got.LastRunAt.Add(15*time.Minute), *got.NextRunAt)
		require.True(t, got.NextRunAt.After(previous))
		previous = *got.NextRunAt
		h.clock.Set(previous)
	}
}

func TestTickLeavesRateLimitedTargets(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.gate.denyRate = true
	ctx := context.Background()
	target := h.target(t, nil)

	res, err := h.orch.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.RateLimited)
	require.Zero(t, h.queue.Len())

	unchanged, err := h.store.GetTarget(ctx, target.ID)
	require.NoError(t, err)
	require.Equal(t, *target.NextRunAt, *unchanged.NextRunAt)
	require.Nil(t, unchanged.LastRunAt)

	h.gate.denyRate = false
	res, err = h.orch.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Dispatched)
}

func TestTickSkipsRacedTargetWithoutSpendingBudget(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()
	stale := h.target(t, nil)
	// Another scheduler claims the run after this one listed the target.
	_, err := h.store.AdvanceSchedule(ctx, stale.ID, *stale.NextRunAt, h.clock.Now(), h.clock.Now().Add(time.Hour))
	require.NoError(t, err)

	require.ErrorIs(t, h.orch.dispatchScheduled(ctx, stale), errScheduleRaced)
	require.Zero(t, h.queue.Len())
	require.Zero(t, h.gate.reserves)
}

func TestEnqueueFailureFailsJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()
	target := h.target(t, nil)
	require.NoError(t, h.queue.Close())

	res, err := h.orch.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)

	jobs, err := h.store.ListJobs(ctx, scraper.JobFilter{TargetID: target.ID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, scraper.JobStatusFailed, jobs[0].Status)
	require.Contains(t, jobs[0].ErrorMessage, "enqueue failed")
}

func TestExecuteBreakingNews(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{BlobPrefix: "raw"})
	ctx := context.Background()
	target := h.target(t, nil)
	h.rule(t, target.ID, "headline", "h1", 1)
	job := h.pendingJob(t, target.ID)
	fetcher := htmlFetcher(`<html><head><title>Test</title></head><body><h1>Breaking News</h1></body></html>`)

	require.NoError(t, h.orch.Execute(ctx, fetcher, job.ID))

	done, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusCompleted, done.Status)
	require.True(t, *done.Success)
	require.Equal(t, 1, done.ItemsExtracted)
	require.Equal(t, int64(120), *done.ResponseTimeMs)

	record, err := h.store.GetRecordByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.Fields{"headline": scraper.Scalar("Breaking News")}, record.ExtractedFields)
	require.Equal(t, "Test", record.Title)
	require.Equal(t, scraper.RecordStatusRaw, record.Status)
	require.NotEmpty(t, record.ContentHash)
	require.Equal(t, "memory://raw/"+itoa(target.ID)+"/"+itoa(job.ID)+"/"+record.ContentHash+".html", record.BlobURI)

	m := h.metric(t, target.ID)
	require.Equal(t, 1, m.JobsCompleted)
	require.Equal(t, 1, m.ItemsExtracted)
	require.Equal(t, 1, m.ResponseTimeSamples)
	require.Equal(t, time.Duration(2*time.Second), time.Duration(h.pacer.last.Load()))
	require.Contains(t, h.logMessages(t, target.ID), "Scraping completed")
}

func TestExecuteUsesLargerCrawlDelay(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.gate.delay = 7 * time.Second
	target := h.target(t, nil)
	job := h.pendingJob(t, target.ID)

	require.NoError(t, h.orch.Execute(context.Background(), htmlFetcher("<p>x</p>"), job.ID))
	require.Equal(t, 7*time.Second, time.Duration(h.pacer.last.Load()))
}

func TestExecuteSkipsPacingLongerThanJobBudget(t *testing.T) {
	t.Parallel()

	h := newHarnessWithPacer(t, Config{}, politeness.NewPacer())
	target := h.target(t, func(tg *scraper.Target) { tg.DelaySeconds = 600 })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		job := h.pendingJob(t, target.ID)
		start := time.Now()
		require.NoError(t, h.orch.Execute(ctx, htmlFetcher("<title>Test</title>"), job.ID))
		require.Less(t, time.Since(start), 5*time.Second)

		done, err := h.store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, scraper.JobStatusCompleted, done.Status, done.ErrorMessage)
	}
	require.Contains(t, h.logMessages(t, target.ID), "politeness delay skipped: longer than the job time limit")
	require.Equal(t, 2, h.metric(t, target.ID).JobsCompleted)
}

func TestExecuteDuplicateDeliveryIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()
	target := h.target(t, nil)
	job := h.pendingJob(t, target.ID)
	fetcher := htmlFetcher("<p>hello</p>")

	require.NoError(t, h.orch.Execute(ctx, fetcher, job.ID))
	require.NoError(t, h.orch.Execute(ctx, fetcher, job.ID))

	require.Equal(t, int32(1), fetcher.calls.Load())
	require.Equal(t, 1, h.metric(t, target.ID).JobsCompleted)
}

func TestExecuteRobotsDenied(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.gate.denyRobot = true
	ctx := context.Background()
	target := h.target(t, nil)
	job := h.pendingJob(t, target.ID)
	fetcher := htmlFetcher("<p>secret</p>")

	require.NoError(t, h.orch.Execute(ctx, fetcher, job.ID))

	done, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusFailed, done.Status)
	require.Equal(t, "Scraping not allowed by robots.txt", done.ErrorMessage)
	require.Zero(t, fetcher.calls.Load())
	_, err = h.store.GetRecordByJob(ctx, job.ID)
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestExecuteIgnoresRobotsWhenNotRespected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.gate.denyRobot = true
	target := h.target(t, func(tg *scraper.Target) { tg.RespectRobots = false })
	job := h.pendingJob(t, target.ID)
	fetcher := htmlFetcher("<p>open</p>")

	require.NoError(t, h.orch.Execute(context.Background(), fetcher, job.ID))
	require.Equal(t, int32(1), fetcher.calls.Load())
}

func TestExecuteFetchFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()
	target := h.target(t, nil)
	job := h.pendingJob(t, target.ID)
	fetcher := &fakeFetcher{fetch: func(context.Context, scraper.FetchRequest) (scraper.FetchResponse, error) {
		return scraper.FetchResponse{}, &scraper.HTTPStatusError{Code: 503}
	}}

	require.NoError(t, h.orch.Execute(ctx, fetcher, job.ID))

	done, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusFailed, done.Status)
	require.Equal(t, "http status 503", done.ErrorMessage)

	m := h.metric(t, target.ID)
	require.Equal(t, 1, m.JobsFailed)
	require.Equal(t, 1, m.ErrorCount)
	require.Zero(t, m.ResponseTimeSamples)
}

func TestExecuteSoftTimeLimit(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{SoftTimeLimit: 20 * time.Millisecond})
	ctx := context.Background()
	target := h.target(t, nil)
	job := h.pendingJob(t, target.ID)
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, _ scraper.FetchRequest) (scraper.FetchResponse, error) {
		<-ctx.Done()
		return scraper.FetchResponse{}, &scraper.TimeoutError{Err: ctx.Err()}
	}}

	require.NoError(t, h.orch.Execute(ctx, fetcher, job.ID))

	done, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusFailed, done.Status)
	require.Equal(t, "soft time limit exceeded", done.ErrorMessage)
}

func TestExecuteDiscardsResultOfCancelledJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()
	target := h.target(t, nil)
	job := h.pendingJob(t, target.ID)
	inner := htmlFetcher("<p>late</p>")
	fetcher := &fakeFetcher{fetch: func(ctx context.Context, req scraper.FetchRequest) (scraper.FetchResponse, error) {
		_, err := h.orch.Cancel(ctx, job.ID)
		require.NoError(t, err)
		return inner.Fetch(ctx, req)
	}}

	require.NoError(t, h.orch.Execute(ctx, fetcher, job.ID))

	done, err := h.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusCancelled, done.Status)
	_, err = h.store.GetRecordByJob(ctx, job.ID)
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestExecuteMissingJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	require.NoError(t, h.orch.Execute(context.Background(), htmlFetcher(""), 404))
}

func TestContentUnchangedIsJournaled(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()
	target := h.target(t, nil)
	fetcher := htmlFetcher("<p>same page</p>")

	first := h.pendingJob(t, target.ID)
	require.NoError(t, h.orch.Execute(ctx, fetcher, first.ID))
	require.NotContains(t, h.logMessages(t, target.ID), "content unchanged since last fetch")

	second := h.pendingJob(t, target.ID)
	require.NoError(t, h.orch.Execute(ctx, fetcher, second.ID))
	require.Contains(t, h.logMessages(t, target.ID), "content unchanged since last fetch")

	done, err := h.store.GetJob(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusCompleted, done.Status)
}

func TestRunNow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()
	target := h.target(t, nil)
	disabled := h.target(t, func(tg *scraper.Target) {
		tg.Name = "off"
		tg.Status = scraper.TargetStatusDisabled
	})

	_, err := h.orch.RunNow(ctx, disabled.ID)
	require.ErrorIs(t, err, scraper.ErrTargetDisabled)

	job, err := h.orch.RunNow(ctx, target.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobTypeManual, job.Type)
	require.Equal(t, scraper.JobStatusPending, job.Status)
	require.Equal(t, 1, h.queue.Len())

	h.gate.denyRate = true
	_, err = h.orch.RunNow(ctx, target.ID)
	var compliance *scraper.ComplianceError
	require.ErrorAs(t, err, &compliance)
	require.Equal(t, scraper.ComplianceRateLimit, compliance.Reason)
	jobs, err := h.store.ListJobs(ctx, scraper.JobFilter{TargetID: target.ID})
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	_, err = h.orch.RunNow(ctx, 999)
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func (h *harness) failedJob(t *testing.T, targetID int64, attempt int) scraper.Job {
	t.Helper()
	ctx := context.Background()
	job, err := h.store.CreateJob(ctx, scraper.Job{
		TargetID: targetID, Type: scraper.JobTypeScheduled, ScheduledAt: h.clock.Now(), Attempt: attempt,
	})
	require.NoError(t, err)
	ok, err := h.store.StartJob(ctx, job.ID, h.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = h.store.FinishJob(ctx, job.ID, scraper.JobOutcome{ErrorMessage: "http status 503", FinishedAt: h.clock.Now()}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	return job
}

func TestRetryFailedIssuesBoundedRetries(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{MaxAttempts: 3})
	ctx := context.Background()
	target := h.target(t, nil)
	first := h.failedJob(t, target.ID, 1)
	h.failedJob(t, target.ID, 3)

	issued, err := h.orch.RetryFailed(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, issued)

	jobs, err := h.store.ListJobs(ctx, scraper.JobFilter{TargetID: target.ID, Status: scraper.JobStatusPending})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, scraper.JobTypeRetry, jobs[0].Type)
	require.Equal(t, 2, jobs[0].Attempt)
	require.Equal(t, first.ID, *jobs[0].RetryOf)

	issued, err = h.orch.RetryFailed(ctx)
	require.NoError(t, err)
	require.Zero(t, issued)
}

func TestRetryDeniedByRateLimitStaysClaimed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()
	target := h.target(t, nil)
	failedJob := h.failedJob(t, target.ID, 1)
	h.gate.denyRate = true

	issued, err := h.orch.RetryFailed(ctx)
	require.NoError(t, err)
	require.Zero(t, issued)

	got, err := h.store.GetJob(ctx, failedJob.ID)
	require.NoError(t, err)
	require.True(t, got.RetryIssued)

	h.gate.denyRate = false
	issued, err = h.orch.RetryFailed(ctx)
	require.NoError(t, err)
	require.Zero(t, issued)
}

func TestCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()
	target := h.target(t, nil)
	job := h.pendingJob(t, target.ID)

	cancelled, err := h.orch.Cancel(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusCancelled, cancelled.Status)

	_, err = h.orch.Cancel(ctx, job.ID)
	require.ErrorIs(t, err, scraper.ErrInvalidTransition)

	_, err = h.orch.Cancel(ctx, 12345)
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestReapStale(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{HardTimeLimit: 10 * time.Minute})
	ctx := context.Background()
	target := h.target(t, nil)

	stuck := h.pendingJob(t, target.ID)
	ok, err := h.store.StartJob(ctx, stuck.ID, h.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)
	lost := h.pendingJob(t, target.ID)

	h.clock.Advance(11 * time.Minute)
	fresh := h.pendingJob(t, target.ID)

	res, err := h.orch.ReapStale(ctx)
	require.NoError(t, err)
	require.Equal(t, ReapResult{Failed: 1, Requeued: 1}, res)

	got, err := h.store.GetJob(ctx, stuck.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusFailed, got.Status)
	require.Equal(t, "hard time limit exceeded", got.ErrorMessage)

	d, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, lost.ID, d.Item.JobID)
	require.NotEqual(t, fresh.ID, d.Item.JobID)
}

func TestRecordTransitions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	ctx := context.Background()
	target := h.target(t, nil)
	job := h.pendingJob(t, target.ID)
	require.NoError(t, h.orch.Execute(ctx, htmlFetcher("<p>x</p>"), job.ID))
	record, err := h.store.GetRecordByJob(ctx, job.ID)
	require.NoError(t, err)

	_, err = h.orch.ArchiveRecord(ctx, record.ID)
	require.ErrorIs(t, err, scraper.ErrInvalidTransition)

	processed, err := h.orch.ProcessRecord(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.RecordStatusProcessed, processed.Status)
	require.NotNil(t, processed.ProcessedAt)
	require.Equal(t, 1, h.metric(t, target.ID).RecordsProcessed)

	archived, err := h.orch.ArchiveRecord(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.RecordStatusArchived, archived.Status)

	_, err = h.orch.ProcessRecord(ctx, record.ID)
	require.True(t, errors.Is(err, scraper.ErrInvalidTransition))
}
