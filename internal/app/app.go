// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/target-scraper/internal/api"
	memorycache "github.com/JakeFAU/target-scraper/internal/cache/memory"
	rediscache "github.com/JakeFAU/target-scraper/internal/cache/redis"
	"github.com/JakeFAU/target-scraper/internal/cleanup"
	"github.com/JakeFAU/target-scraper/internal/clock/system"
	"github.com/JakeFAU/target-scraper/internal/config"
	"github.com/JakeFAU/target-scraper/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/target-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/target-scraper/internal/hash/sha256"
	"github.com/JakeFAU/target-scraper/internal/id/uuid"
	"github.com/JakeFAU/target-scraper/internal/orchestrator"
	"github.com/JakeFAU/target-scraper/internal/periodic"
	"github.com/JakeFAU/target-scraper/internal/politeness"
	memoryqueue "github.com/JakeFAU/target-scraper/internal/queue/memory"
	pubsubqueue "github.com/JakeFAU/target-scraper/internal/queue/pubsub"
	"github.com/JakeFAU/target-scraper/internal/rollup"
	"github.com/JakeFAU/target-scraper/internal/scraper"
	"github.com/JakeFAU/target-scraper/internal/storage/gcs"
	"github.com/JakeFAU/target-scraper/internal/storage/local"
	"github.com/JakeFAU/target-scraper/internal/storage/memory"
	"github.com/JakeFAU/target-scraper/internal/storage/postgres"
	"github.com/JakeFAU/target-scraper/internal/targets"
	"github.com/JakeFAU/target-scraper/internal/worker"
)

// migrator is implemented by stores with a managed schema.
type migrator interface {
	Migrate(ctx context.Context) error
}

// App holds the shared, long-lived services for the application.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Store        scraper.Store
	Cache        scraper.Cache
	Queue        scraper.Queue
	Blobs        scraper.BlobStore
	Clock        scraper.Clock
	Gate         *politeness.Gate
	Orchestrator *orchestrator.Orchestrator
	Targets      *targets.Service
	Cleanup      *cleanup.Service

	closers []func() error
}

// New builds every service named by cfg. On failure, whatever was already
// opened is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Clock: system.New()}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("db", cfg.DB.Provider),
		zap.String("cache", cfg.Cache.Provider),
		zap.String("queue", cfg.Queue.Provider),
		zap.String("storage", cfg.Storage.Provider))
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	for _, open := range []func(context.Context) error{a.openStore, a.openCache, a.openQueue, a.openBlobs} {
		if err := open(ctx); err != nil {
			return err
		}
	}

	a.Gate = politeness.NewGate(a.Cache, nil, a.Clock, politeness.Config{
		RobotsTTL:    time.Duration(cfg.Scraper.RobotsCacheTTLMinutes) * time.Minute,
		RobotsFetch:  time.Duration(cfg.HTTP.RobotsTimeoutSeconds) * time.Second,
		DefaultAgent: cfg.Scraper.UserAgent,
	}, logger.Named("politeness"))

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:  a.Store,
		Cache:  a.Cache,
		Queue:  a.Queue,
		Gate:   a.Gate,
		Pacer:  politeness.NewPacer(),
		Blobs:  a.Blobs,
		Hasher: sha256.New(),
		Clock:  a.Clock,
		IDs:    uuid.New(),
		Rollup: rollup.New(a.Store, a.Clock, logger.Named("rollup")),
	}, orchestrator.Config{
		UserAgent:      cfg.Scraper.UserAgent,
		SoftTimeLimit:  cfg.SoftTimeLimit(),
		HardTimeLimit:  cfg.HardTimeLimit(),
		MaxAttempts:    cfg.Retry.MaxAttempts,
		BatchSize:      cfg.Scraper.BatchSize,
		BlobPrefix:     cfg.Storage.Prefix,
		ContentHashTTL: time.Duration(cfg.Scraper.ContentHashTTLHours) * time.Hour,
	}, logger.Named("orchestrator"))
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	a.Orchestrator = orch
	a.Targets = targets.New(a.Store, a.Clock, cfg.Scraper.UserAgent, logger.Named("targets"))
	a.Cleanup = cleanup.New(a.Store, a.Clock, logger.Named("cleanup"))
	return nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.DB.Provider {
	case config.ProviderPostgres:
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      a.Config.DB.DSN,
			MaxConns: a.Config.DB.MaxConns,
			MinConns: a.Config.DB.MinConns,
		})
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		a.Store = store
		if a.Config.DB.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
	default:
		a.Store = memory.NewStore()
	}
	a.closers = append(a.closers, func() error {
		a.Store.Close()
		return nil
	})
	return nil
}

func (a *App) openCache(ctx context.Context) error {
	switch a.Config.Cache.Provider {
	case config.ProviderRedis:
		cache, err := rediscache.New(ctx, rediscache.Config{
			Addr:      a.Config.Cache.RedisAddr,
			Password:  a.Config.Cache.RedisPassword,
			DB:        a.Config.Cache.RedisDB,
			KeyPrefix: a.Config.Cache.KeyPrefix,
		})
		if err != nil {
			return fmt.Errorf("open redis: %w", err)
		}
		a.Cache = cache
	default:
		a.Cache = memorycache.New()
	}
	a.closers = append(a.closers, a.Cache.Close)
	return nil
}

func (a *App) openQueue(ctx context.Context) error {
	switch a.Config.Queue.Provider {
	case config.ProviderPubSub:
		q, err := pubsubqueue.New(ctx, pubsubqueue.Config{
			ProjectID:      a.Config.Queue.ProjectID,
			TopicID:        a.Config.Queue.TopicID,
			SubscriptionID: a.Config.Queue.SubscriptionID,
			MaxOutstanding: a.Config.Queue.MaxOutstanding,
		}, a.Logger.Named("pubsub"))
		if err != nil {
			return fmt.Errorf("open pubsub queue: %w", err)
		}
		a.Queue = q
	default:
		a.Queue = memoryqueue.NewQueue(a.Config.Scraper.QueueDepth)
	}
	a.closers = append(a.closers, a.Queue.Close)
	return nil
}

func (a *App) openBlobs(ctx context.Context) error {
	switch a.Config.Storage.Provider {
	case config.ProviderMemory:
		a.Blobs = memory.NewBlobStore()
	case config.ProviderLocal:
		store, err := local.New(local.Config{BaseDir: a.Config.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("open local blob store: %w", err)
		}
		a.Blobs = store
	case config.ProviderGCS:
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: a.Config.Storage.Bucket})
		if err != nil {
			return fmt.Errorf("open gcs blob store: %w", err)
		}
		a.Blobs = store
		a.closers = append(a.closers, store.Close)
	}
	return nil
}

// Migrate applies the repository schema. Stores without a schema are a no-op.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.Store.(migrator)
	if !ok {
		a.Logger.Info("store has no schema to migrate", zap.String("db", a.Config.DB.Provider))
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.Logger.Info("schema migrated")
	return nil
}

// NewFetcher builds one fetch client; each worker owns its own.
func (a *App) NewFetcher() *collyfetcher.Fetcher {
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:    a.Config.Scraper.UserAgent,
		Timeout:      time.Duration(a.Config.HTTP.TimeoutSeconds) * time.Second,
		MaxRetries:   a.Config.HTTP.MaxRetries,
		BackoffBase:  time.Duration(a.Config.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:   time.Duration(a.Config.HTTP.BackoffMaxMs) * time.Millisecond,
		MaxRedirects: a.Config.HTTP.MaxRedirects,
		MaxBodyBytes: a.Config.HTTP.MaxBodyBytes,
	})
}

// Server builds the operator HTTP surface.
func (a *App) Server() *api.Server {
	apiKey := ""
	if a.Config.Auth.Enabled {
		apiKey = a.Config.Auth.APIKey
	}
	return api.NewServer(api.Deps{
		Targets: a.Targets,
		Ops:     a.Orchestrator,
		Reader:  a.Store,
		Usage:   a.Gate,
		Cleaner: a.Cleanup,
		Checks:  map[string]api.Checker{"store": a.Store, "cache": a.Cache},
		Clock:   a.Clock,
	}, api.Config{
		APIKey:             apiKey,
		RateLimitPerMinute: a.Config.Server.RateLimitPerMinute,
		RequestTimeout:     time.Duration(a.Config.Server.RequestTimeoutSeconds) * time.Second,
		Cleanup:            a.CleanupOptions(),
	}, a.Logger.Named("api"))
}

// Dispatcher builds the worker pool, one colly fetcher per worker.
func (a *App) Dispatcher() (*dispatcher.Dispatcher, error) {
	d, err := dispatcher.New(a.Queue, a.Orchestrator, func(int) dispatcher.Fetcher {
		return a.NewFetcher()
	}, a.Config.Scraper.Concurrency, worker.Config{}, a.Logger.Named("dispatcher"))
	if err != nil {
		return nil, fmt.Errorf("build dispatcher: %w", err)
	}
	return d, nil
}

type periodicTask struct {
	name string
	spec string
	fn   periodic.TaskFunc
}

// periodicTasks lists the background sweeps. Each one logs its own summary,
// so the closures only forward errors.
func (a *App) periodicTasks() []periodicTask {
	o := a.Orchestrator
	return []periodicTask{
		{"tick", a.Config.Schedule.Tick, func(ctx context.Context) error {
			_, err := o.Tick(ctx)
			return err
		}},
		{"retry", a.Config.Schedule.Retry, func(ctx context.Context) error {
			_, err := o.RetryFailed(ctx)
			return err
		}},
		{"reap", a.Config.Schedule.Reap, func(ctx context.Context) error {
			_, err := o.ReapStale(ctx)
			return err
		}},
		{"cleanup", a.Config.Schedule.Cleanup, func(ctx context.Context) error {
			_, err := a.Cleanup.Run(ctx, a.CleanupOptions())
			return err
		}},
	}
}

// Periodic registers the scheduling tick, retry sweep, stale reaper and
// cleanup on their configured specs. Empty specs are skipped.
func (a *App) Periodic() (*periodic.Runner, error) {
	r := periodic.New(a.Logger.Named("periodic"))
	for _, task := range a.periodicTasks() {
		if task.spec == "" {
			a.Logger.Info("periodic task disabled", zap.String("task", task.name))
			continue
		}
		if err := r.Add(task.name, task.spec, task.fn); err != nil {
			return nil, fmt.Errorf("register periodic task: %w", err)
		}
	}
	return r, nil
}

// CleanupOptions maps the retention settings onto cleanup.Options.
func (a *App) CleanupOptions() cleanup.Options {
	return cleanup.Options{
		DaysToKeep:        a.Config.Cleanup.DaysToKeep,
		LogDaysToKeep:     a.Config.Cleanup.LogDaysToKeep,
		MetricsDaysToKeep: a.Config.Cleanup.MetricsDaysToKeep,
	}
}

// Serve runs the HTTP server, the worker pool and the periodic runner until
// ctx is canceled, then shuts them down.
func (a *App) Serve(ctx context.Context) error {
	d, err := a.Dispatcher()
	if err != nil {
		return err
	}
	runner, err := a.Periodic()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(a.Config.Server.Port),
		Handler:           a.Server().Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx),
			time.Duration(a.Config.Server.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		d.Run(gctx)
		return nil
	})
	g.Go(func() error {
		runner.Run(gctx)
		return nil
	})
	return g.Wait()
}

// Close releases every opened service in reverse order and flushes the logger.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.Logger.Sync()
}
