// Package politeness decides whether a fetch may happen: robots.txt
// compliance, the shared hourly rate counter, and per-target pacing.
package politeness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/target-scraper/internal/metrics"
	"github.com/JakeFAU/target-scraper/internal/scraper"
)

const maxRobotsBytes = 1 << 20

// Config tunes cache lifetimes and the robots fetch.
type Config struct {
	RobotsTTL    time.Duration
	RobotsFetch  time.Duration
	RateWindow   time.Duration
	DefaultAgent string
}

func (c Config) withDefaults() Config {
	if c.RobotsTTL <= 0 {
		c.RobotsTTL = time.Hour
	}
	if c.RobotsFetch <= 0 {
		c.RobotsFetch = 10 * time.Second
	}
	if c.RateWindow <= 0 {
		c.RateWindow = time.Hour
	}
	return c
}

// Gate checks robots.txt and reserves hourly request slots.
type Gate struct {
	cache  scraper.Cache
	client *http.Client
	clock  scraper.Clock
	cfg    Config
	logger *zap.Logger
	group  singleflight.Group
}

// NewGate builds a Gate. A nil client gets one bounded by cfg.RobotsFetch.
func NewGate(cache scraper.Cache, client *http.Client, clock scraper.Clock, cfg Config, logger *zap.Logger) *Gate {
	cfg = cfg.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.RobotsFetch}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		cache:  cache,
		client: client,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// RateKey is the shared-cache key of a target's counter for the hour containing at.
func RateKey(targetID int64, at time.Time) string {
	return fmt.Sprintf("ratelimit:target:%d:%d", targetID, at.Unix()/3600)
}

func robotsKey(u *url.URL) string {
	return "robots:" + strings.ToLower(u.Scheme+"://"+u.Host)
}

// IsAllowed reports whether robots.txt permits userAgent to fetch rawURL.
// Fetch failures fail open.
func (g *Gate) IsAllowed(ctx context.Context, rawURL, userAgent string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false, fmt.Errorf("parse url %q: invalid", rawURL)
	}
	if userAgent == "" {
		userAgent = g.cfg.DefaultAgent
	}
	body, err := g.robotsBody(ctx, u, userAgent)
	if err != nil {
		g.logger.Warn("robots fetch failed; allowing access", zap.String("host", u.Host), zap.Error(err))
		metrics.ObserveRobotsDecision("fail_open")
		return true, nil
	}
	allowed := parseRobots(body).allowed(requestPath(u), userAgent)
	if allowed {
		metrics.ObserveRobotsDecision("allowed")
	} else {
		metrics.ObserveRobotsDecision("blocked")
	}
	return allowed, nil
}

// CrawlDelay returns the robots.txt Crawl-delay for userAgent, or zero.
func (g *Gate) CrawlDelay(ctx context.Context, rawURL, userAgent string) time.Duration {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return 0
	}
	body, err := g.robotsBody(ctx, u, userAgent)
	if err != nil {
		return 0
	}
	return crawlDelay(body, userAgent)
}

func (g *Gate) robotsBody(ctx context.Context, u *url.URL, userAgent string) (string, error) {
	key := robotsKey(u)
	cached, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.Warn("robots cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		return cached, nil
	}

	v, err, _ := g.group.Do(key, func() (any, error) {
		body, cacheable, fetchErr := g.fetchRobots(ctx, u, userAgent)
		if fetchErr != nil {
			return "", fetchErr
		}
		if cacheable {
			if setErr := g.cache.Set(ctx, key, body, g.cfg.RobotsTTL); setErr != nil {
				g.logger.Warn("robots cache write failed", zap.String("key", key), zap.Error(setErr))
			}
		}
		return body, nil
	})
	if err != nil {
		return "", fmt.Errorf("load robots for %s: %w", u.Host, err)
	}
	body, _ := v.(string)
	return body, nil
}

// fetchRobots returns the body to cache. Non-200 responses cache as allow-all.
func (g *Gate) fetchRobots(ctx context.Context, u *url.URL, userAgent string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RobotsFetch)
	defer cancel()

	robotsURL := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return "", false, fmt.Errorf("new robots request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", true, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return "", false, fmt.Errorf("read robots body: %w", err)
	}
	return string(body), true, nil
}

// TryReserve takes one request slot from the target's current hour.
// It returns false without incrementing when the hour is exhausted.
func (g *Gate) TryReserve(ctx context.Context, target scraper.Target) (bool, error) {
	if target.MaxRequestsPerHour <= 0 {
		return false, nil
	}
	key := RateKey(target.ID, g.clock.Now())
	count, ok, err := g.cache.IncrementIfBelow(ctx, key, int64(target.MaxRequestsPerHour), g.cfg.RateWindow)
	if err != nil {
		return false, fmt.Errorf("reserve rate slot: %w", err)
	}
	if !ok {
		metrics.ObserveRateLimitDenied()
		g.logger.Debug("rate limit reached",
			zap.Int64("target_id", target.ID),
			zap.Int64("count", count),
			zap.Int("limit", target.MaxRequestsPerHour),
		)
	}
	return ok, nil
}

// Usage reports how many slots the target consumed in the current hour.
func (g *Gate) Usage(ctx context.Context, targetID int64) (int64, error) {
	val, ok, err := g.cache.Get(ctx, RateKey(targetID, g.clock.Now()))
	if err != nil {
		return 0, fmt.Errorf("read rate counter: %w", err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse rate counter: %w", err)
	}
	return n, nil
}
