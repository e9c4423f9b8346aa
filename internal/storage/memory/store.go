// Package memory provides in-process implementations of the scraper
// repositories and blob archive for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

type metricKey struct {
	targetID int64
	date     time.Time
}

// Store keeps every repository in maps guarded by one lock, so each
// conditional transition is atomic.
type Store struct {
	mu sync.RWMutex

	lastID      int64
	targets     map[int64]scraper.Target
	rules       map[int64]map[string]scraper.Rule
	jobs        map[int64]scraper.Job
	records     map[int64]scraper.ScrapedRecord
	recordByJob map[int64]int64
	metrics     map[metricKey]scraper.DailyMetric
	logs        []scraper.LogEntry
}

var _ scraper.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		targets:     make(map[int64]scraper.Target),
		rules:       make(map[int64]map[string]scraper.Rule),
		jobs:        make(map[int64]scraper.Job),
		records:     make(map[int64]scraper.ScrapedRecord),
		recordByJob: make(map[int64]int64),
		metrics:     make(map[metricKey]scraper.DailyMetric),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// nextID must be called with the write lock held.
func (s *Store) nextID() int64 {
	s.lastID++
	return s.lastID
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func applyLimit[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// CreateTarget stores a new target and assigns its id.
func (s *Store) CreateTarget(_ context.Context, target scraper.Target) (scraper.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target.ID = s.nextID()
	target.CreatedAt = orNow(target.CreatedAt)
	target.UpdatedAt = orNow(target.UpdatedAt)
	target.Rules = nil
	s.targets[target.ID] = target
	return target, nil
}

// GetTarget returns a target with its rules in application order.
func (s *Store) GetTarget(_ context.Context, id int64) (scraper.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.targets[id]
	if !ok {
		return scraper.Target{}, scraper.ErrNotFound
	}
	target.Rules = s.sortedRules(id, false)
	return target, nil
}

// ListTargets returns targets ordered by name.
func (s *Store) ListTargets(_ context.Context, filter scraper.TargetFilter) ([]scraper.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scraper.Target, 0, len(s.targets))
	for _, t := range s.targets {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return applyLimit(out, filter.Limit), nil
}

// UpdateTarget replaces the mutable fields of an existing target.
func (s *Store) UpdateTarget(_ context.Context, target scraper.Target) (scraper.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.targets[target.ID]
	if !ok {
		return scraper.Target{}, scraper.ErrNotFound
	}
	target.CreatedAt = existing.CreatedAt
	target.UpdatedAt = orNow(target.UpdatedAt)
	target.Rules = nil
	s.targets[target.ID] = target
	return target, nil
}

// DeleteTarget removes a target and everything that belongs to it.
func (s *Store) DeleteTarget(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[id]; !ok {
		return scraper.ErrNotFound
	}
	delete(s.targets, id)
	delete(s.rules, id)
	for jobID, job := range s.jobs {
		if job.TargetID == id {
			delete(s.jobs, jobID)
		}
	}
	for recordID, rec := range s.records {
		if rec.TargetID == id {
			delete(s.records, recordID)
			delete(s.recordByJob, rec.JobID)
		}
	}
	for key := range s.metrics {
		if key.targetID == id {
			delete(s.metrics, key)
		}
	}
	kept := s.logs[:0]
	for _, entry := range s.logs {
		if entry.TargetID != id {
			kept = append(kept, entry)
		}
	}
	s.logs = kept
	return nil
}

// ListDueTargets returns active targets whose next run is at or before now,
// earliest first.
func (s *Store) ListDueTargets(_ context.Context, now time.Time, limit int) ([]scraper.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []scraper.Target
	for _, t := range s.targets {
		if t.Schedulable(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRunAt.Equal(*out[j].NextRunAt) {
			return out[i].NextRunAt.Before(*out[j].NextRunAt)
		}
		return out[i].ID < out[j].ID
	})
	return applyLimit(out, limit), nil
}

// AdvanceSchedule moves the schedule only if next_run_at still equals observedNext.
func (s *Store) AdvanceSchedule(_ context.Context, id int64, observedNext, lastRun, nextRun time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	if !ok {
		return false, nil
	}
	if t.NextRunAt == nil || !t.NextRunAt.Equal(observedNext) {
		return false, nil
	}
	t.LastRunAt = pointerTime(lastRun)
	t.NextRunAt = pointerTime(nextRun)
	s.targets[id] = t
	return true, nil
}

// ReleaseSchedule restores a schedule claim made by AdvanceSchedule.
func (s *Store) ReleaseSchedule(_ context.Context, id int64, claimedNext time.Time, lastRun *time.Time, nextRun time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[id]
	if !ok || t.NextRunAt == nil || !t.NextRunAt.Equal(claimedNext) {
		return false, nil
	}
	if lastRun != nil {
		t.LastRunAt = pointerTime(*lastRun)
	} else {
		t.LastRunAt = nil
	}
	t.NextRunAt = pointerTime(nextRun)
	s.targets[id] = t
	return true, nil
}

// UpsertRule inserts or replaces the rule keyed by (target_id, name).
func (s *Store) UpsertRule(_ context.Context, rule scraper.Rule) (scraper.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[rule.TargetID]; !ok {
		return scraper.Rule{}, scraper.ErrNotFound
	}
	byName := s.rules[rule.TargetID]
	if byName == nil {
		byName = make(map[string]scraper.Rule)
		s.rules[rule.TargetID] = byName
	}
	if existing, ok := byName[rule.Name]; ok {
		rule.ID = existing.ID
	} else {
		rule.ID = s.nextID()
	}
	byName[rule.Name] = rule
	return rule, nil
}

// ListRules returns a target's rules ordered by priority then name.
func (s *Store) ListRules(_ context.Context, targetID int64, activeOnly bool) ([]scraper.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedRules(targetID, activeOnly), nil
}

func (s *Store) sortedRules(targetID int64, activeOnly bool) []scraper.Rule {
	var out []scraper.Rule
	for _, r := range s.rules[targetID] {
		if activeOnly && !r.Active {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// DeleteRule removes a rule by name.
func (s *Store) DeleteRule(_ context.Context, targetID int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[targetID][name]; !ok {
		return scraper.ErrNotFound
	}
	delete(s.rules[targetID], name)
	return nil
}
