package scraper

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a repository lookup has no row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition is returned for a state change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrTargetDisabled is returned when a disabled target is run manually.
	ErrTargetDisabled = errors.New("target is disabled")
)

// ComplianceReason distinguishes why the politeness gate refused a request.
type ComplianceReason string

// Compliance reasons.
const (
	ComplianceRobots    ComplianceReason = "robots"
	ComplianceRateLimit ComplianceReason = "rate_limit"
)

// ComplianceError is returned when robots.txt or the rate limit forbids a fetch.
type ComplianceError struct {
	Reason ComplianceReason
	URL    string
}

func (e *ComplianceError) Error() string {
	switch e.Reason {
	case ComplianceRobots:
		return "Scraping not allowed by robots.txt"
	case ComplianceRateLimit:
		return "Rate limit exceeded"
	default:
		return fmt.Sprintf("compliance check failed: %s", e.Reason)
	}
}

// NetworkError wraps transport-level failures (DNS, refused connections, resets).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }

// Unwrap returns the transport error.
func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPStatusError reports a non-success HTTP status.
type HTTPStatusError struct {
	Code int
}

func (e *HTTPStatusError) Error() string { return fmt.Sprintf("http status %d", e.Code) }

// Retryable reports whether the status is worth retrying.
func (e *HTTPStatusError) Retryable() bool {
	switch e.Code {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// TimeoutError reports a request that exceeded its deadline.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("request timed out: %v", e.Err) }

// Unwrap returns the underlying deadline error.
func (e *TimeoutError) Unwrap() error { return e.Err }

// TooManyRedirectsError reports a redirect chain longer than allowed.
type TooManyRedirectsError struct {
	Max int
}

func (e *TooManyRedirectsError) Error() string {
	return fmt.Sprintf("stopped after %d redirects", e.Max)
}

// IsFetchError reports whether err belongs to the fetch taxonomy.
func IsFetchError(err error) bool {
	var (
		netErr      *NetworkError
		statusErr   *HTTPStatusError
		timeoutErr  *TimeoutError
		redirectErr *TooManyRedirectsError
	)
	return errors.As(err, &netErr) || errors.As(err, &statusErr) ||
		errors.As(err, &timeoutErr) || errors.As(err, &redirectErr)
}

// ParseError annotates content that could not be fully decomposed.
type ParseError struct {
	Kind ContentKind
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.Kind, e.Err) }

// Unwrap returns the decoding error.
func (e *ParseError) Unwrap() error { return e.Err }

// ExtractionRuleError reports a single rule that failed and was skipped.
type ExtractionRuleError struct {
	Rule string
	Kind RuleKind
	Err  error
}

func (e *ExtractionRuleError) Error() string {
	return fmt.Sprintf("rule %q (%s): %v", e.Rule, e.Kind, e.Err)
}

// Unwrap returns the rule failure.
func (e *ExtractionRuleError) Unwrap() error { return e.Err }

// PersistenceError wraps repository failures that abort the current job.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("persistence %s: %v", e.Op, e.Err) }

// Unwrap returns the repository error.
func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidationError reports operator input that breaks a field constraint.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason) }
