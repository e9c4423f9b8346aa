// Package memory provides an in-process TTL cache for single-node runs and tests.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	value   string
	expires time.Time
}

// Cache is a mutex-guarded map with per-key expiry.
type Cache struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

// New creates an empty cache using the wall clock.
func New() *Cache {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty cache that reads time from now.
func NewWithClock(now func() time.Time) *Cache {
	return &Cache{
		items: make(map[string]entry),
		now:   now,
	}
}

func (c *Cache) live(key string) (entry, bool) {
	e, ok := c.items[key]
	if !ok {
		return entry{}, false
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.items, key)
		return entry{}, false
	}
	return e, true
}

func (c *Cache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

// IncrementIfBelow increments key unless it already holds limit or more.
func (c *Cache) IncrementIfBelow(_ context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var current int64
	if e, ok := c.live(key); ok {
		n, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("counter %q is not an integer: %w", key, err)
		}
		current = n
	}
	if current >= limit {
		return current, false, nil
	}
	current++
	c.items[key] = entry{value: strconv.FormatInt(current, 10), expires: c.expiry(ttl)}
	return current, true, nil
}

// Get returns the value for key if present and unexpired.
func (c *Cache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	return e.value, ok, nil
}

// Set stores value under key for ttl. A non-positive ttl never expires.
func (c *Cache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry{value: value, expires: c.expiry(ttl)}
	return nil
}

// SetIfAbsent stores value only when key is missing or expired.
func (c *Cache) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live(key); ok {
		return false, nil
	}
	c.items[key] = entry{value: value, expires: c.expiry(ttl)}
	return true, nil
}

// Ping always succeeds.
func (c *Cache) Ping(context.Context) error { return nil }

// Close is a no-op.
func (c *Cache) Close() error { return nil }
