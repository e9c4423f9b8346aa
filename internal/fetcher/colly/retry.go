package collyfetcher

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// RetryPolicy decides whether a failed fetch is repeated and how long to wait.
type RetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewRetryPolicy builds a policy allowing maxRetries repeats after the first attempt.
func NewRetryPolicy(maxRetries int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	return &RetryPolicy{
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// ShouldRetry reports whether err on the given zero-based attempt is worth repeating.
// Only retryable HTTP statuses and network failures qualify; timeouts,
// redirect loops and cancellations do not.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *scraper.HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	var timeoutErr *scraper.TimeoutError
	if errors.As(err, &timeoutErr) {
		return false
	}
	var netErr *scraper.NetworkError
	return errors.As(err, &netErr)
}

// Backoff returns the wait before the attempt following attempt.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
