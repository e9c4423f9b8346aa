package scraper

import (
	"net/http"
	"time"
)

// TargetStatus controls whether the scheduler considers a target.
type TargetStatus string

// Target statuses.
const (
	TargetStatusActive   TargetStatus = "active"
	TargetStatusPaused   TargetStatus = "paused"
	TargetStatusDisabled TargetStatus = "disabled"
)

// Frequency describes how often a target is scheduled.
type Frequency string

// Supported frequencies.
const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyCustom  Frequency = "custom"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

// Job lifecycle states.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobType records why a job was created.
type JobType string

// Job types.
const (
	JobTypeScheduled JobType = "scheduled"
	JobTypeManual    JobType = "manual"
	JobTypeRetry     JobType = "retry"
)

// RecordStatus tracks post-processing of a scraped record.
type RecordStatus string

// Record statuses, in lifecycle order.
const (
	RecordStatusRaw       RecordStatus = "raw"
	RecordStatusProcessed RecordStatus = "processed"
	RecordStatusArchived  RecordStatus = "archived"
)

// RuleKind selects the matcher family used by a rule.
type RuleKind string

// Rule kinds.
const (
	RuleKindSelector RuleKind = "selector"
	RuleKindXPath    RuleKind = "xpath"
	RuleKindPattern  RuleKind = "pattern"
	RuleKindPath     RuleKind = "path"
)

// ValueKind describes how matched values are normalized.
type ValueKind string

// Value kinds.
const (
	ValueKindText   ValueKind = "text"
	ValueKindNumber ValueKind = "number"
	ValueKindDate   ValueKind = "date"
	ValueKindURL    ValueKind = "url"
)

// LogLevel is the severity of a journal entry.
type LogLevel string

// Log levels.
const (
	LogLevelDebug    LogLevel = "debug"
	LogLevelInfo     LogLevel = "info"
	LogLevelWarning  LogLevel = "warning"
	LogLevelError    LogLevel = "error"
	LogLevelCritical LogLevel = "critical"
)

// ContentKind is the coarse classification of a fetched body.
type ContentKind string

// Content kinds.
const (
	ContentKindHTML  ContentKind = "html"
	ContentKindJSON  ContentKind = "json"
	ContentKindText  ContentKind = "text"
	ContentKindOther ContentKind = "other"
)

// Target is a configured site or endpoint scraped on a cadence.
type Target struct {
	ID                    int64        `json:"id"`
	Name                  string       `json:"name"`
	URL                   string       `json:"url"`
	Status                TargetStatus `json:"status"`
	Frequency             Frequency    `json:"frequency"`
	CustomIntervalMinutes *int         `json:"custom_interval_minutes,omitempty"`
	DelaySeconds          int          `json:"delay_seconds"`
	MaxRequestsPerHour    int          `json:"max_requests_per_hour"`
	RespectRobots         bool         `json:"respect_robots"`
	UserAgent             string       `json:"user_agent"`
	Rules                 []Rule       `json:"extraction_rules,omitempty"`
	CreatedBy             string       `json:"created_by"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
	LastRunAt             *time.Time   `json:"last_run_at,omitempty"`
	NextRunAt             *time.Time   `json:"next_run_at,omitempty"`
}

// Job is one fetch-extract-persist attempt against a target.
type Job struct {
	ID                int64      `json:"id"`
	TargetID          int64      `json:"target_id"`
	Status            JobStatus  `json:"status"`
	Type              JobType    `json:"job_type"`
	ScheduledAt       time.Time  `json:"scheduled_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	Success           *bool      `json:"success,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	ItemsExtracted    int        `json:"items_extracted"`
	ResponseTimeMs    *int64     `json:"response_time_ms,omitempty"`
	ResponseSizeBytes *int64     `json:"response_size_bytes,omitempty"`
	// RetryOf points at the failed job this one retries.
	RetryOf     *int64 `json:"retry_of,omitempty"`
	Attempt     int    `json:"attempt"`
	RetryIssued bool   `json:"retry_issued"`
}

// JobOutcome carries the terminal fields written when a running job finishes.
type JobOutcome struct {
	Success           bool
	ErrorMessage      string
	ItemsExtracted    int
	ResponseTimeMs    *int64
	ResponseSizeBytes *int64
	FinishedAt        time.Time
}

// Status returns the terminal status implied by the outcome.
func (o JobOutcome) Status() JobStatus {
	if o.Success {
		return JobStatusCompleted
	}
	return JobStatusFailed
}

// ScrapedRecord is the persisted product of a successful fetch.
type ScrapedRecord struct {
	ID              int64          `json:"id"`
	JobID           int64          `json:"job_id"`
	TargetID        int64          `json:"target_id"`
	URL             string         `json:"url"`
	Title           string         `json:"title,omitempty"`
	Content         string         `json:"content,omitempty"`
	RawBody         string         `json:"raw_body,omitempty"`
	ExtractedFields Fields         `json:"extracted_fields"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ParseError      string         `json:"parse_error,omitempty"`
	ContentHash     string         `json:"content_hash,omitempty"`
	BlobURI         string         `json:"blob_uri,omitempty"`
	HTTPStatus      int            `json:"http_status,omitempty"`
	ContentType     string         `json:"content_type,omitempty"`
	ScrapedAt       time.Time      `json:"scraped_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	Status          RecordStatus   `json:"status"`
}

// Rule is a declarative instruction for extracting one named field.
type Rule struct {
	ID        int64     `json:"id"`
	TargetID  int64     `json:"target_id"`
	Name      string    `json:"name"`
	Kind      RuleKind  `json:"kind"`
	Selector  string    `json:"selector"`
	Attribute string    `json:"attribute,omitempty"`
	ValueKind ValueKind `json:"value_kind"`
	Priority  int       `json:"priority"`
	Active    bool      `json:"active"`
}

// DailyMetric is the per-target, per-day rollup row.
type DailyMetric struct {
	TargetID            int64     `json:"target_id"`
	Date                time.Time `json:"date"`
	JobsScheduled       int       `json:"jobs_scheduled"`
	JobsCompleted       int       `json:"jobs_completed"`
	JobsFailed          int       `json:"jobs_failed"`
	ItemsExtracted      int       `json:"items_extracted"`
	RecordsProcessed    int       `json:"records_processed"`
	AvgResponseTimeMs   *float64  `json:"avg_response_time_ms,omitempty"`
	ResponseTimeSamples int       `json:"response_time_samples"`
	TotalResponseBytes  int64     `json:"total_response_bytes"`
	ErrorCount          int       `json:"error_count"`
	WarningCount        int       `json:"warning_count"`
}

// MetricDelta is one increment applied to a DailyMetric row.
type MetricDelta struct {
	TargetID         int64
	Date             time.Time
	JobsScheduled    int
	JobsCompleted    int
	JobsFailed       int
	ItemsExtracted   int
	RecordsProcessed int
	// ResponseTimeMs, when set, is folded into the running average.
	ResponseTimeMs *int64
	ResponseBytes  int64
	Errors         int
	Warnings       int
}

// LogEntry is an append-only journal event.
type LogEntry struct {
	ID        int64          `json:"id"`
	TargetID  int64          `json:"target_id"`
	JobID     *int64         `json:"job_id,omitempty"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// WorkItem is the payload carried by the task queue.
type WorkItem struct {
	JobID      int64     `json:"job_id"`
	DeliveryID string    `json:"delivery_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// FetchRequest describes a single HTTP fetch.
type FetchRequest struct {
	URL       string
	UserAgent string
	Headers   http.Header
	Timeout   time.Duration
}

// FetchResponse captures the outcome of a successful fetch.
type FetchResponse struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	ContentType string
	Kind        ContentKind
	Duration    time.Duration
	Attempts    int
}

// ParsedContent is the normalized decomposition of a response body.
type ParsedContent struct {
	Kind          ContentKind
	Title         string
	Content       string
	RawNormalized string
	Metadata      map[string]any
	// Err annotates a parse that degraded instead of failing.
	Err error
}

// Date truncates t to the UTC calendar day used for rollups.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
