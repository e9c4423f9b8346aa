// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Provider names.
const (
	ProviderMemory   = "memory"
	ProviderRedis    = "redis"
	ProviderPubSub   = "pubsub"
	ProviderPostgres = "postgres"
	ProviderNone     = "none"
	ProviderLocal    = "local"
	ProviderGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Queue    QueueConfig    `mapstructure:"queue"`
	DB       DBConfig       `mapstructure:"db"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RateLimitPerMinute     int `mapstructure:"rate_limit_per_minute"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs workers and job execution.
type ScraperConfig struct {
	UserAgent             string `mapstructure:"user_agent"`
	Concurrency           int    `mapstructure:"concurrency"`
	QueueDepth            int    `mapstructure:"queue_depth"`
	SoftTimeLimitSeconds  int    `mapstructure:"soft_time_limit_seconds"`
	HardTimeLimitSeconds  int    `mapstructure:"hard_time_limit_seconds"`
	BatchSize             int    `mapstructure:"batch_size"`
	ContentHashTTLHours   int    `mapstructure:"content_hash_ttl_hours"`
	RobotsCacheTTLMinutes int    `mapstructure:"robots_cache_ttl_minutes"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	TimeoutSeconds       int `mapstructure:"timeout_seconds"`
	MaxRetries           int `mapstructure:"max_retries"`
	BackoffInitialMs     int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs         int `mapstructure:"backoff_max_ms"`
	MaxRedirects         int `mapstructure:"max_redirects"`
	MaxBodyBytes         int `mapstructure:"max_body_bytes"`
	RobotsTimeoutSeconds int `mapstructure:"robots_timeout_seconds"`
}

// RetryConfig bounds job retries.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// CleanupConfig sets retention windows in days.
type CleanupConfig struct {
	DaysToKeep        int `mapstructure:"days_to_keep"`
	LogDaysToKeep     int `mapstructure:"log_days_to_keep"`
	MetricsDaysToKeep int `mapstructure:"metrics_days_to_keep"`
}

// ScheduleConfig holds the cron specs of the periodic sweeps. An empty spec
// disables that sweep.
type ScheduleConfig struct {
	Tick    string `mapstructure:"tick"`
	Retry   string `mapstructure:"retry"`
	Reap    string `mapstructure:"reap"`
	Cleanup string `mapstructure:"cleanup"`
}

// CacheConfig selects the shared TTL cache.
type CacheConfig struct {
	Provider      string `mapstructure:"provider"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// QueueConfig selects the task queue.
type QueueConfig struct {
	Provider       string `mapstructure:"provider"`
	ProjectID      string `mapstructure:"project_id"`
	TopicID        string `mapstructure:"topic_id"`
	SubscriptionID string `mapstructure:"subscription_id"`
	MaxOutstanding int    `mapstructure:"max_outstanding"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Provider    string `mapstructure:"provider"`
	DSN         string `mapstructure:"dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// StorageConfig selects where raw bodies are archived.
type StorageConfig struct {
	Provider string `mapstructure:"provider"`
	Bucket   string `mapstructure:"bucket"`
	BaseDir  string `mapstructure:"base_dir"`
	Prefix   string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_per_minute", 600)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 30)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("scraper.user_agent", "TargetScraper/1.0 (+https://github.com/JakeFAU/target-scraper)")
	v.SetDefault("scraper.concurrency", 4)
	v.SetDefault("scraper.queue_depth", 256)
	v.SetDefault("scraper.soft_time_limit_seconds", 240)
	v.SetDefault("scraper.hard_time_limit_seconds", 600)
	v.SetDefault("scraper.batch_size", 100)
	v.SetDefault("scraper.content_hash_ttl_hours", 24)
	v.SetDefault("scraper.robots_cache_ttl_minutes", 60)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 30000)
	v.SetDefault("http.max_redirects", 10)
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("http.robots_timeout_seconds", 10)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("cleanup.days_to_keep", 30)
	v.SetDefault("cleanup.log_days_to_keep", 30)
	v.SetDefault("cleanup.metrics_days_to_keep", 90)
	v.SetDefault("schedule.tick", "@every 1m")
	v.SetDefault("schedule.retry", "@every 5m")
	v.SetDefault("schedule.reap", "@every 2m")
	v.SetDefault("schedule.cleanup", "0 3 * * *")
	v.SetDefault("cache.provider", ProviderMemory)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.key_prefix", "scraper:")
	v.SetDefault("queue.provider", ProviderMemory)
	v.SetDefault("queue.project_id", "")
	v.SetDefault("queue.topic_id", "scrape-jobs")
	v.SetDefault("queue.subscription_id", "scrape-jobs-workers")
	v.SetDefault("queue.max_outstanding", 10)
	v.SetDefault("db.provider", ProviderMemory)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("storage.provider", ProviderNone)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.base_dir", "")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits. Every problem
// found is reported.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0, "server.port must be > 0")
	check(c.Server.RateLimitPerMinute >= 0, "server.rate_limit_per_minute must be >= 0")
	check(!c.Auth.Enabled || c.Auth.APIKey != "", "auth.api_key must be set when auth is enabled")
	check(strings.TrimSpace(c.Scraper.UserAgent) != "", "scraper.user_agent is required")
	check(c.Scraper.Concurrency > 0, "scraper.concurrency must be > 0")
	check(c.Scraper.QueueDepth > 0, "scraper.queue_depth must be > 0")
	check(c.Scraper.SoftTimeLimitSeconds > 0, "scraper.soft_time_limit_seconds must be > 0")
	check(c.Scraper.HardTimeLimitSeconds > c.Scraper.SoftTimeLimitSeconds,
		"scraper.hard_time_limit_seconds must exceed the soft limit")
	check(c.HTTP.TimeoutSeconds > 0, "http.timeout_seconds must be > 0")
	check(c.HTTP.MaxRetries >= 0, "http.max_retries must be >= 0")
	check(c.Retry.MaxAttempts > 0, "retry.max_attempts must be > 0")
	check(c.Cleanup.DaysToKeep > 0, "cleanup.days_to_keep must be > 0")
	check(c.Cleanup.MetricsDaysToKeep > 0, "cleanup.metrics_days_to_keep must be > 0")

	for name, spec := range map[string]string{
		"schedule.tick":    c.Schedule.Tick,
		"schedule.retry":   c.Schedule.Retry,
		"schedule.reap":    c.Schedule.Reap,
		"schedule.cleanup": c.Schedule.Cleanup,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid cron spec %q: %w", name, spec, err))
		}
	}

	switch c.Cache.Provider {
	case ProviderMemory:
	case ProviderRedis:
		check(c.Cache.RedisAddr != "", "cache.redis_addr is required for the redis provider")
	default:
		errs = append(errs, fmt.Errorf("cache.provider %q is not one of memory, redis", c.Cache.Provider))
	}
	switch c.Queue.Provider {
	case ProviderMemory:
	case ProviderPubSub:
		check(c.Queue.ProjectID != "", "queue.project_id is required for the pubsub provider")
		check(c.Queue.TopicID != "", "queue.topic_id is required for the pubsub provider")
		check(c.Queue.SubscriptionID != "", "queue.subscription_id is required for the pubsub provider")
	default:
		errs = append(errs, fmt.Errorf("queue.provider %q is not one of memory, pubsub", c.Queue.Provider))
	}
	switch c.DB.Provider {
	case ProviderMemory:
	case ProviderPostgres:
		check(c.DB.DSN != "", "db.dsn is required for the postgres provider")
	default:
		errs = append(errs, fmt.Errorf("db.provider %q is not one of memory, postgres", c.DB.Provider))
	}
	switch c.Storage.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderLocal:
		check(c.Storage.BaseDir != "", "storage.base_dir is required for the local provider")
	case ProviderGCS:
		check(c.Storage.Bucket != "", "storage.bucket is required for the gcs provider")
	default:
		errs = append(errs, fmt.Errorf("storage.provider %q is not one of none, memory, local, gcs", c.Storage.Provider))
	}
	return errors.Join(errs...)
}

// SoftTimeLimit is the per-job soft ceiling.
func (c Config) SoftTimeLimit() time.Duration {
	return time.Duration(c.Scraper.SoftTimeLimitSeconds) * time.Second
}

// HardTimeLimit is the per-job hard ceiling used by the reaper.
func (c Config) HardTimeLimit() time.Duration {
	return time.Duration(c.Scraper.HardTimeLimitSeconds) * time.Second
}
