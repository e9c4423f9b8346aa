package scraper

import (
	"context"
	"io"
	"sync"
	"time"
)

// TargetFilter narrows target listings.
type TargetFilter struct {
	Status TargetStatus
	Limit  int
}

// JobFilter narrows job listings.
type JobFilter struct {
	TargetID int64
	Status   JobStatus
	Limit    int
}

// LogFilter narrows journal listings.
type LogFilter struct {
	TargetID int64
	JobID    *int64
	Level    LogLevel
	Limit    int
}

// TargetStore persists targets and their schedule.
type TargetStore interface {
	CreateTarget(ctx context.Context, target Target) (Target, error)
	GetTarget(ctx context.Context, id int64) (Target, error)
	ListTargets(ctx context.Context, filter TargetFilter) ([]Target, error)
	UpdateTarget(ctx context.Context, target Target) (Target, error)
	DeleteTarget(ctx context.Context, id int64) error
	ListDueTargets(ctx context.Context, now time.Time, limit int) ([]Target, error)
	// AdvanceSchedule moves last/next run forward only if next_run_at still equals observedNext.
	AdvanceSchedule(ctx context.Context, id int64, observedNext, lastRun, nextRun time.Time) (bool, error)
	// ReleaseSchedule restores last/next run only if next_run_at still equals claimedNext.
	ReleaseSchedule(ctx context.Context, id int64, claimedNext time.Time, lastRun *time.Time, nextRun time.Time) (bool, error)
}

// RuleStore persists extraction rules keyed by (target_id, name).
type RuleStore interface {
	UpsertRule(ctx context.Context, rule Rule) (Rule, error)
	ListRules(ctx context.Context, targetID int64, activeOnly bool) ([]Rule, error)
	DeleteRule(ctx context.Context, targetID int64, name string) error
}

// JobStore persists jobs. Every transition is a conditional single write
// that reports whether it took effect.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) (Job, error)
	GetJob(ctx context.Context, id int64) (Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)
	StartJob(ctx context.Context, id int64, at time.Time) (bool, error)
	// FinishJob moves a running job to its terminal status and, when record is
	// non-nil, stores it in the same unit of work.
	FinishJob(ctx context.Context, id int64, outcome JobOutcome, record *ScrapedRecord) (bool, error)
	CancelJob(ctx context.Context, id int64, at time.Time, reason string) (bool, error)
	ListRetryCandidates(ctx context.Context, maxAttempts, limit int) ([]Job, error)
	ClaimRetry(ctx context.Context, id int64) (bool, error)
	// ListStaleJobs returns jobs in status whose relevant timestamp is before cutoff.
	ListStaleJobs(ctx context.Context, status JobStatus, before time.Time, limit int) ([]Job, error)
}

// RecordStore reads scraped records and advances their status.
type RecordStore interface {
	GetRecord(ctx context.Context, id int64) (ScrapedRecord, error)
	GetRecordByJob(ctx context.Context, jobID int64) (ScrapedRecord, error)
	AdvanceRecord(ctx context.Context, id int64, to RecordStatus, at time.Time) (ScrapedRecord, error)
}

// MetricStore applies atomic rollup increments.
type MetricStore interface {
	ApplyMetricDelta(ctx context.Context, delta MetricDelta) error
	ListMetrics(ctx context.Context, targetID int64, since time.Time) ([]DailyMetric, error)
}

// LogStore is the append-only journal.
type LogStore interface {
	AppendLog(ctx context.Context, entry LogEntry) (LogEntry, error)
	ListLogs(ctx context.Context, filter LogFilter) ([]LogEntry, error)
}

// RetentionStore deletes aged data.
type RetentionStore interface {
	DeleteArchivedRecords(ctx context.Context, before time.Time) (int64, error)
	DeleteLogsBefore(ctx context.Context, before time.Time) (int64, error)
	DeleteMetricsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Store is the full repository surface.
type Store interface {
	TargetStore
	RuleStore
	JobStore
	RecordStore
	MetricStore
	LogStore
	RetentionStore
	Ping(ctx context.Context) error
	Close()
}

// Cache is the shared TTL key/value store used across workers.
type Cache interface {
	// IncrementIfBelow increments key unless it already reached limit,
	// returning the resulting count and whether the increment happened.
	IncrementIfBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Queue is the at-least-once task queue.
type Queue interface {
	Enqueue(ctx context.Context, item WorkItem) error
	Dequeue(ctx context.Context) (Delivery, error)
	Close() error
}

// Delivery is a dequeued work item awaiting acknowledgement.
type Delivery struct {
	Item WorkItem
	once *sync.Once
	ack  func()
	nack func()
}

// NewDelivery binds acknowledgement callbacks to an item. Either may be nil.
func NewDelivery(item WorkItem, ack, nack func()) Delivery {
	return Delivery{Item: item, once: &sync.Once{}, ack: ack, nack: nack}
}

// Ack confirms the item was handled. Only the first of Ack/Nack counts.
func (d Delivery) Ack() {
	d.settle(d.ack)
}

// Nack asks the queue to redeliver the item.
func (d Delivery) Nack() {
	d.settle(d.nack)
}

func (d Delivery) settle(fn func()) {
	if d.once == nil {
		if fn != nil {
			fn()
		}
		return
	}
	d.once.Do(func() {
		if fn != nil {
			fn()
		}
	})
}

// Fetcher retrieves a URL.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error)
}

// BlobStore archives raw response bodies.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Hasher creates deterministic content hashes.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces opaque identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
