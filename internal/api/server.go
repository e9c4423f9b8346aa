// Package api exposes the HTTP interface for the scraper service.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/JakeFAU/target-scraper/internal/cleanup"
	"github.com/JakeFAU/target-scraper/internal/metrics"
	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// TargetService manages target and rule configuration.
type TargetService interface {
	Create(ctx context.Context, t scraper.Target) (scraper.Target, error)
	Get(ctx context.Context, id int64) (scraper.Target, error)
	List(ctx context.Context, filter scraper.TargetFilter) ([]scraper.Target, error)
	Update(ctx context.Context, t scraper.Target) (scraper.Target, error)
	Delete(ctx context.Context, id int64) error
	UpsertRule(ctx context.Context, targetID int64, rule scraper.Rule) (scraper.Rule, error)
	ListRules(ctx context.Context, targetID int64) ([]scraper.Rule, error)
	DeleteRule(ctx context.Context, targetID int64, name string) error
}

// Operations are the job lifecycle actions an operator may trigger.
type Operations interface {
	RunNow(ctx context.Context, targetID int64) (scraper.Job, error)
	Cancel(ctx context.Context, jobID int64) (scraper.Job, error)
	ProcessRecord(ctx context.Context, recordID int64) (scraper.ScrapedRecord, error)
	ArchiveRecord(ctx context.Context, recordID int64) (scraper.ScrapedRecord, error)
}

// Reader serves the read-only views.
type Reader interface {
	GetJob(ctx context.Context, id int64) (scraper.Job, error)
	ListJobs(ctx context.Context, filter scraper.JobFilter) ([]scraper.Job, error)
	GetRecordByJob(ctx context.Context, jobID int64) (scraper.ScrapedRecord, error)
	ListMetrics(ctx context.Context, targetID int64, since time.Time) ([]scraper.DailyMetric, error)
	ListLogs(ctx context.Context, filter scraper.LogFilter) ([]scraper.LogEntry, error)
}

// UsageReader reports the current hour's rate-limit consumption.
type UsageReader interface {
	Usage(ctx context.Context, targetID int64) (int64, error)
}

// Cleaner runs the retention policy on demand.
type Cleaner interface {
	Run(ctx context.Context, opts cleanup.Options) (cleanup.Result, error)
}

// Checker is a readiness dependency.
type Checker interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the handlers. Cleaner may be nil.
type Deps struct {
	Targets TargetService
	Ops     Operations
	Reader  Reader
	Usage   UsageReader
	Cleaner Cleaner
	Checks  map[string]Checker
	Clock   scraper.Clock
}

// Config tunes the HTTP surface.
type Config struct {
	// APIKey, when set, is required on every /v1 request.
	APIKey string
	// RateLimitPerMinute caps requests per client IP; zero disables it.
	RateLimitPerMinute int
	RequestTimeout     time.Duration
	Cleanup            cleanup.Options
}

// Server wires HTTP handlers to the orchestrator and stores.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	if cfg.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/targets", func(r chi.Router) {
			r.Get("/", s.listTargets)
			r.Post("/", s.createTarget)
			r.Route("/{target_id}", func(r chi.Router) {
				r.Get("/", s.getTarget)
				r.Put("/", s.updateTarget)
				r.Delete("/", s.deleteTarget)
				r.Post("/run", s.runTarget)
				r.Get("/usage", s.targetUsage)
				r.Get("/metrics", s.targetMetrics)
				r.Get("/logs", s.targetLogs)
				r.Get("/rules", s.listRules)
				r.Put("/rules", s.upsertRule)
				r.Delete("/rules/{name}", s.deleteRule)
			})
		})
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/cancel", s.cancelJob)
				r.Get("/record", s.getJobRecord)
			})
		})
		r.Route("/records/{record_id}", func(r chi.Router) {
			r.Post("/process", s.processRecord)
			r.Post("/archive", s.archiveRecord)
		})
		if s.deps.Cleaner != nil {
			r.Post("/cleanup", s.runCleanup)
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	failures := map[string]string{}
	for name, check := range s.deps.Checks {
		if err := check.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) runCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Cleaner.Run(r.Context(), s.cfg.Cleanup)
	if err != nil {
		s.writeServiceError(w, "cleanup", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
