package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

func newTestFetcher(cfg Config) *Fetcher {
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 5 * time.Millisecond
	}
	return New(cfg)
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "test-agent", r.UserAgent())
		require.Equal(t, "yes", r.Header.Get("X-Trace"))
		require.Equal(t, "en-US,en;q=0.5", r.Header.Get("Accept-Language"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><title>ok</title></html>"))
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(Config{UserAgent: "default-agent"})
	t.Cleanup(f.Close)

	resp, err := f.Fetch(context.Background(), scraper.FetchRequest{
		URL:       srv.URL,
		UserAgent: "test-agent",
		Headers:   http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, scraper.ContentKindHTML, resp.Kind)
	require.Equal(t, 1, resp.Attempts)
	require.Contains(t, string(resp.Body), "<title>ok</title>")
}

func TestFetchRetriesRetryableStatus(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(Config{MaxRetries: 3})
	t.Cleanup(f.Close)

	resp, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, 3, resp.Attempts)
	require.Equal(t, scraper.ContentKindJSON, resp.Kind)
	require.EqualValues(t, 3, hits.Load())
}

func TestFetchRetriesExhausted(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(Config{MaxRetries: 2})
	t.Cleanup(f.Close)

	_, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: srv.URL})
	var statusErr *scraper.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.Code)
	require.EqualValues(t, 3, hits.Load())
}

func TestFetchDoesNotRetryClientError(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(Config{MaxRetries: 3})
	t.Cleanup(f.Close)

	_, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: srv.URL})
	require.EqualError(t, err, "http status 404")
	require.EqualValues(t, 1, hits.Load())
}

func TestFetchTooManyRedirects(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(Config{MaxRedirects: 3, MaxRetries: 2})
	t.Cleanup(f.Close)

	_, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: srv.URL})
	var redirectErr *scraper.TooManyRedirectsError
	require.ErrorAs(t, err, &redirectErr)
	require.Equal(t, 3, redirectErr.Max)
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	f := newTestFetcher(Config{MaxRetries: 2})
	t.Cleanup(f.Close)

	_, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: srv.URL, Timeout: 50 * time.Millisecond})
	var timeoutErr *scraper.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestFetchNetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := newTestFetcher(Config{})
	t.Cleanup(f.Close)

	_, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: addr})
	var netErr *scraper.NetworkError
	require.ErrorAs(t, err, &netErr)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	f := newTestFetcher(Config{})
	t.Cleanup(f.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, scraper.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.Canceled)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := scraper.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}, "Accept": {"application/json"}},
	}
	var result scraper.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{"Accept": {"*/*"}}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	require.Equal(t, "application/json", collyReq.Headers.Get("Accept"))
	require.Equal(t, "keep-alive", collyReq.Headers.Get("Connection"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"Content-Type": {"text/plain"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "https://example.com/final", result.URL)
	require.Equal(t, scraper.ContentKindText, result.Kind)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestClassifyTransportError(t *testing.T) {
	t.Parallel()

	var timeoutErr *scraper.TimeoutError
	require.ErrorAs(t, classifyTransportError(context.DeadlineExceeded), &timeoutErr)

	var netErr *scraper.NetworkError
	require.ErrorAs(t, classifyTransportError(errors.New("connection reset")), &netErr)

	wrapped := &url.Error{Op: "Get", URL: "https://example.com", Err: &scraper.TooManyRedirectsError{Max: 2}}
	var redirectErr *scraper.TooManyRedirectsError
	require.ErrorAs(t, classifyTransportError(wrapped), &redirectErr)

	require.ErrorIs(t, classifyTransportError(context.Canceled), context.Canceled)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
