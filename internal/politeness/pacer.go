package politeness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/target-scraper/internal/metrics"
)

// ErrPacingInterrupted reports that a politeness wait was cut short.
var ErrPacingInterrupted = errors.New("politeness delay interrupted")

// Pacer spaces consecutive requests to the same target within this process.
type Pacer struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
}

// NewPacer creates an empty Pacer.
func NewPacer() *Pacer {
	return &Pacer{limiters: make(map[int64]*rate.Limiter)}
}

// Wait blocks until delay has elapsed since the previous request to targetID.
// When the remaining wait would outlast ctx's deadline the pacer does not
// block: it records the request as happening now and reports false, leaving
// the hourly budget and the schedule to space the target. An error is
// returned only when ctx ends during a wait that fits its deadline.
func (p *Pacer) Wait(ctx context.Context, targetID int64, delay time.Duration) (bool, error) {
	if delay <= 0 {
		return true, nil
	}
	limit := rate.Every(delay)
	p.mu.Lock()
	limiter, ok := p.limiters[targetID]
	if !ok {
		limiter = rate.NewLimiter(limit, 1)
		p.limiters[targetID] = limiter
	} else if limiter.Limit() != limit {
		limiter.SetLimit(limit)
	}
	now := time.Now()
	r := limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	if deadline, ok := ctx.Deadline(); ok && wait > 0 && now.Add(wait).After(deadline) {
		fresh := rate.NewLimiter(limit, 1)
		fresh.AllowN(now, 1)
		p.limiters[targetID] = fresh
		p.mu.Unlock()
		metrics.ObservePacingSkipped()
		return false, nil
	}
	p.mu.Unlock()

	if wait <= 0 {
		return true, nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		metrics.ObservePolitenessDelay(wait)
		return true, nil
	case <-ctx.Done():
		r.Cancel()
		return false, fmt.Errorf("%w: %w", ErrPacingInterrupted, ctx.Err())
	}
}
