// Package queue holds the task queue adapters that carry work items from the
// scheduler to the worker pool. Delivery is at-least-once: a nacked or
// unacknowledged item is delivered again.
package queue

import "errors"

// ErrClosed is returned by queue operations after Close.
var ErrClosed = errors.New("queue closed")
