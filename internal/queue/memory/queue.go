// Package memory provides queue implementations for local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/target-scraper/internal/queue"
	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// Queue is a bounded in-memory queue with context-aware operations.
// Nacked items are pushed back onto the queue.
type Queue struct {
	ch        chan scraper.WorkItem
	done      chan struct{}
	closeOnce sync.Once
}

var _ scraper.Queue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan scraper.WorkItem, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes an item into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, item scraper.WorkItem) error {
	if q.isClosed() {
		return queue.ErrClosed
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return queue.ErrClosed
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (scraper.Delivery, error) {
	select {
	case <-ctx.Done():
		return scraper.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return scraper.Delivery{}, queue.ErrClosed
	case item := <-q.ch:
		return scraper.NewDelivery(item, nil, func() { q.redeliver(item) }), nil
	}
}

// Len reports the number of buffered items.
func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) redeliver(item scraper.WorkItem) {
	select {
	case q.ch <- item:
		return
	case <-q.done:
		return
	default:
	}
	// Full: hand off so Nack never blocks the worker.
	go func() {
		select {
		case q.ch <- item:
		case <-q.done:
		}
	}()
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Close stops the queue. Buffered items are dropped. Closing twice is safe.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
