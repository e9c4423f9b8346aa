// Package collyfetcher implements the scraper Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/target-scraper/internal/metrics"
	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// DefaultHeaders are sent with every request unless the caller overrides them.
// Accept-Encoding is left to the transport so gzip bodies are decoded.
var DefaultHeaders = http.Header{
	"Accept":          {"text/html,application/xhtml+xml,application/xml;q=0.9,application/json;q=0.8,*/*;q=0.7"},
	"Accept-Language": {"en-US,en;q=0.5"},
	"Connection":      {"keep-alive"},
}

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	MaxRedirects int
	MaxBodyBytes int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 10
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 << 20
	}
	return c
}

// Fetcher executes GET requests through a colly collector. Each worker owns
// one Fetcher and releases its connections with Close.
type Fetcher struct {
	cfg           Config
	transport     *http.Transport
	baseCollector *colly.Collector
	retry         *RetryPolicy
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher with its own connection pool.
func New(cfg Config) *Fetcher {
	cfg = cfg.withDefaults()
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = cfg.MaxBodyBytes

	transport := newHTTPTransport()
	c.WithTransport(transport)

	f := &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		retry:         NewRetryPolicy(cfg.MaxRetries, cfg.BackoffBase, cfg.BackoffMax),
	}
	c.SetRedirectHandler(f.checkRedirect)
	return f
}

// Close releases idle connections held by the fetcher.
func (f *Fetcher) Close() {
	f.transport.CloseIdleConnections()
}

// Fetch retrieves request.URL, retrying retryable statuses with backoff.
func (f *Fetcher) Fetch(ctx context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	start := time.Now()
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := f.fetchOnce(ctx, request)
		if err == nil {
			resp.Attempts = attempt + 1
			resp.Duration = time.Since(start)
			metrics.ObserveFetch(request.URL, "success", len(resp.Body), resp.Duration)
			return resp, nil
		}
		lastErr = err
		if !f.retry.ShouldRetry(err, attempt) {
			break
		}
		metrics.ObserveFetchRetry()
		if sleepErr := sleepWithContext(ctx, f.retry.Backoff(attempt)); sleepErr != nil {
			lastErr = classifyTransportError(sleepErr)
			break
		}
	}
	metrics.ObserveFetch(request.URL, outcomeLabel(lastErr), 0, time.Since(start))
	return scraper.FetchResponse{}, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	var (
		result   scraper.FetchResponse
		fetchErr error
	)
	collector := f.buildCollector(ctx, request, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return scraper.FetchResponse{}, err
	}
	if result.StatusCode < 200 || result.StatusCode > 299 {
		return scraper.FetchResponse{}, &scraper.HTTPStatusError{Code: result.StatusCode}
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	request scraper.FetchRequest,
	result *scraper.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	collector.UserAgent = f.cfg.UserAgent
	if request.UserAgent != "" {
		collector.UserAgent = request.UserAgent
	}
	timeout := f.cfg.Timeout
	if request.Timeout > 0 {
		timeout = request.Timeout
	}
	collector.SetRequestTimeout(timeout)
	f.configureCollectorHooks(collector, request, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request scraper.FetchRequest,
	result *scraper.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(r, DefaultHeaders)
		copyHeaders(r, request.Headers)
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		finalURL := request.URL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		contentType := headers.Get("Content-Type")
		*result = scraper.FetchResponse{
			URL:         finalURL,
			StatusCode:  r.StatusCode,
			Headers:     headers,
			Body:        append([]byte(nil), r.Body...),
			ContentType: contentType,
			Kind:        Classify(contentType),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return classifyTransportError(ctx.Err())
	case err := <-done:
		if err != nil {
			return classifyTransportError(err)
		}
		if *fetchErr != nil {
			return classifyTransportError(*fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) checkRedirect(_ *http.Request, via []*http.Request) error {
	if len(via) >= f.cfg.MaxRedirects {
		return &scraper.TooManyRedirectsError{Max: f.cfg.MaxRedirects}
	}
	return nil
}

// copyHeaders replaces any header already present on the request.
func copyHeaders(r *colly.Request, headers http.Header) {
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// classifyTransportError maps collector errors onto the fetch taxonomy.
func classifyTransportError(err error) error {
	var redirects *scraper.TooManyRedirectsError
	if errors.As(err, &redirects) {
		return redirects
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("fetch canceled: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &scraper.TimeoutError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &scraper.TimeoutError{Err: err}
	}
	return &scraper.NetworkError{Err: err}
}

func outcomeLabel(err error) string {
	var (
		statusErr   *scraper.HTTPStatusError
		timeoutErr  *scraper.TimeoutError
		redirectErr *scraper.TooManyRedirectsError
	)
	switch {
	case errors.As(err, &statusErr):
		return "http_status"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &redirectErr):
		return "redirects"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "network"
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
