package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/target-scraper/internal/extract"
	"github.com/JakeFAU/target-scraper/internal/parser"
	"github.com/JakeFAU/target-scraper/internal/scraper"
	"github.com/JakeFAU/target-scraper/internal/storage"
)

const (
	softLimitMessage = "soft time limit exceeded"
	hardLimitMessage = "hard time limit exceeded"

	pacingInterruptedMessage = "politeness delay interrupted"
)

// ContentHashKey is the shared-cache key remembering a target's last body hash.
func ContentHashKey(targetID int64, hash string) string {
	return fmt.Sprintf("content_hash:target:%d:%s", targetID, hash)
}

// Execute runs one job end to end with the worker's fetcher. It returns an
// error only when the job could not be claimed because the repository
// failed, which makes redelivery worthwhile. Duplicate deliveries of a job
// already claimed are no-ops.
func (o *Orchestrator) Execute(ctx context.Context, fetcher scraper.Fetcher, jobID int64) error {
	logger := o.logger.With(zap.Int64("job_id", jobID))
	job, err := o.store.GetJob(ctx, jobID)
	if errors.Is(err, scraper.ErrNotFound) {
		logger.Warn("job vanished before execution")
		return nil
	}
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job.Status != scraper.JobStatusPending {
		logger.Debug("job already claimed", zap.String("status", string(job.Status)))
		return nil
	}
	target, err := o.store.GetTarget(ctx, job.TargetID)
	if errors.Is(err, scraper.ErrNotFound) {
		logger.Warn("target vanished before execution", zap.Int64("target_id", job.TargetID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("get target: %w", err)
	}

	started, err := o.store.StartJob(ctx, job.ID, o.clock.Now())
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}
	if !started {
		logger.Debug("job claimed elsewhere")
		return nil
	}
	job.Status = scraper.JobStatusRunning

	jobCtx, cancel := context.WithTimeout(ctx, o.cfg.SoftTimeLimit)
	defer cancel()
	outcome, record := o.scrape(jobCtx, fetcher, target, job)

	if ctx.Err() != nil {
		// Shutdown: leave the job running for the reaper.
		logger.Warn("execution interrupted", zap.Error(ctx.Err()))
		return nil
	}
	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) && !outcome.Success {
		outcome.ErrorMessage = softLimitMessage
		record = nil
	}
	outcome.FinishedAt = o.clock.Now()
	if record != nil {
		record.ScrapedAt = outcome.FinishedAt
	}
	o.finish(ctx, job, outcome, record)
	return nil
}

// scrape performs the gate, fetch, parse and extract steps. Journal writes
// use a context detached from the soft limit so a timeout is still recorded.
func (o *Orchestrator) scrape(ctx context.Context, fetcher scraper.Fetcher, target scraper.Target, job scraper.Job) (scraper.JobOutcome, *scraper.ScrapedRecord) {
	journalCtx := context.WithoutCancel(ctx)
	userAgent := target.UserAgent
	if userAgent == "" {
		userAgent = o.cfg.UserAgent
	}

	if target.RespectRobots {
		allowed, err := o.gate.IsAllowed(ctx, target.URL, userAgent)
		if err != nil {
			return failed(err), nil
		}
		if !allowed {
			return failed(&scraper.ComplianceError{Reason: scraper.ComplianceRobots, URL: target.URL}), nil
		}
	}

	delay := time.Duration(target.DelaySeconds) * time.Second
	if target.RespectRobots {
		if crawlDelay := o.gate.CrawlDelay(ctx, target.URL, userAgent); crawlDelay > delay {
			delay = crawlDelay
		}
	}
	paced, err := o.pacer.Wait(ctx, target.ID, delay)
	if err != nil {
		return scraper.JobOutcome{ErrorMessage: pacingInterruptedMessage}, nil
	}
	if !paced {
		o.journal(journalCtx, target.ID, &job.ID, scraper.LogLevelInfo, "politeness delay skipped: longer than the job time limit", map[string]any{
			"delay_seconds": delay.Seconds(),
		})
	}

	resp, err := fetcher.Fetch(ctx, scraper.FetchRequest{URL: target.URL, UserAgent: userAgent})
	if err != nil {
		return failed(err), nil
	}
	elapsed := resp.Duration.Milliseconds()
	size := int64(len(resp.Body))

	parsed := parser.Parse(resp.Kind, resp.Body, resp.URL)
	if parsed.Err != nil {
		o.journal(journalCtx, target.ID, &job.ID, scraper.LogLevelWarning, "content parsed with errors", map[string]any{
			"error": parsed.Err.Error(),
		})
	}
	fields, ruleErrs := extract.Extract(target.Rules, parsed, resp.URL)
	for _, ruleErr := range ruleErrs {
		o.journal(journalCtx, target.ID, &job.ID, scraper.LogLevelWarning, "extraction rule failed", map[string]any{
			"error": ruleErr.Error(),
		})
	}

	record := &scraper.ScrapedRecord{
		URL:             resp.URL,
		Title:           parsed.Title,
		Content:         parsed.Content,
		RawBody:         parsed.RawNormalized,
		ExtractedFields: fields,
		Metadata:        parsed.Metadata,
		HTTPStatus:      resp.StatusCode,
		ContentType:     resp.ContentType,
		Status:          scraper.RecordStatusRaw,
	}
	if parsed.Err != nil {
		record.ParseError = parsed.Err.Error()
	}
	record.ContentHash = o.fingerprint(journalCtx, target.ID, job.ID, resp.Body)
	if o.blobs != nil && record.ContentHash != "" {
		record.BlobURI = o.archive(journalCtx, target.ID, job.ID, record.ContentHash, resp)
	}

	return scraper.JobOutcome{
		Success:           true,
		ItemsExtracted:    len(fields),
		ResponseTimeMs:    &elapsed,
		ResponseSizeBytes: &size,
	}, record
}

func failed(err error) scraper.JobOutcome {
	return scraper.JobOutcome{ErrorMessage: err.Error()}
}

// fingerprint hashes the body and notes when it matches the previous fetch
// within the dedup window.
func (o *Orchestrator) fingerprint(ctx context.Context, targetID, jobID int64, body []byte) string {
	hash, err := o.hasher.Hash(body)
	if err != nil {
		o.logger.Warn("hash body", zap.Int64("job_id", jobID), zap.Error(err))
		return ""
	}
	fresh, err := o.cache.SetIfAbsent(ctx, ContentHashKey(targetID, hash), strconv.FormatInt(jobID, 10), o.cfg.ContentHashTTL)
	if err != nil {
		o.logger.Warn("record content hash", zap.Int64("job_id", jobID), zap.Error(err))
		return hash
	}
	if !fresh {
		o.journal(ctx, targetID, &jobID, scraper.LogLevelInfo, "content unchanged since last fetch", map[string]any{
			"content_hash": hash,
		})
	}
	return hash
}

func (o *Orchestrator) archive(ctx context.Context, targetID, jobID int64, hash string, resp scraper.FetchResponse) string {
	path := storage.ArchivePath(o.cfg.BlobPrefix, targetID, jobID, hash, resp.Kind)
	uri, err := o.blobs.PutObject(ctx, path, resp.ContentType, bytes.NewReader(resp.Body))
	if err != nil {
		o.journal(ctx, targetID, &jobID, scraper.LogLevelWarning, "archive body failed", map[string]any{
			"error": err.Error(),
		})
		return ""
	}
	return uri
}
