package postgres

import (
	"context"
	"time"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

const targetColumns = `id, name, url, status, frequency, custom_interval_minutes, delay_seconds,
	max_requests_per_hour, respect_robots, user_agent, created_by, created_at, updated_at,
	last_run_at, next_run_at`

func scanTarget(row scanner) (scraper.Target, error) {
	var t scraper.Target
	err := row.Scan(
		&t.ID, &t.Name, &t.URL, &t.Status, &t.Frequency, &t.CustomIntervalMinutes, &t.DelaySeconds,
		&t.MaxRequestsPerHour, &t.RespectRobots, &t.UserAgent, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt,
		&t.LastRunAt, &t.NextRunAt,
	)
	return t, err
}

// CreateTarget inserts a target and returns it with its id.
func (s *Store) CreateTarget(ctx context.Context, t scraper.Target) (scraper.Target, error) {
	query := `
		INSERT INTO targets (name, url, status, frequency, custom_interval_minutes, delay_seconds,
			max_requests_per_hour, respect_robots, user_agent, created_by, created_at, updated_at,
			last_run_at, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING ` + targetColumns
	created, err := scanTarget(s.pool.QueryRow(ctx, query,
		t.Name, t.URL, t.Status, t.Frequency, t.CustomIntervalMinutes, t.DelaySeconds,
		t.MaxRequestsPerHour, t.RespectRobots, t.UserAgent, t.CreatedBy, t.CreatedAt, t.UpdatedAt,
		t.LastRunAt, t.NextRunAt,
	))
	if err != nil {
		return scraper.Target{}, wrap("create target", err)
	}
	return created, nil
}

// GetTarget returns a target with its rules in application order.
func (s *Store) GetTarget(ctx context.Context, id int64) (scraper.Target, error) {
	query := `SELECT ` + targetColumns + ` FROM targets WHERE id = $1`
	t, err := scanTarget(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return scraper.Target{}, wrap("get target", err)
	}
	rules, err := s.ListRules(ctx, id, false)
	if err != nil {
		return scraper.Target{}, err
	}
	t.Rules = rules
	return t, nil
}

// ListTargets returns targets ordered by name.
func (s *Store) ListTargets(ctx context.Context, filter scraper.TargetFilter) ([]scraper.Target, error) {
	query := `SELECT ` + targetColumns + ` FROM targets
		WHERE ($1::text = '' OR status = $1)
		ORDER BY name, id
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, string(filter.Status), limitArg(filter.Limit))
	if err != nil {
		return nil, wrap("list targets", err)
	}
	return collect(rows, "list targets", scanTarget)
}

// UpdateTarget replaces the mutable fields of a target.
func (s *Store) UpdateTarget(ctx context.Context, t scraper.Target) (scraper.Target, error) {
	query := `
		UPDATE targets SET name = $2, url = $3, status = $4, frequency = $5,
			custom_interval_minutes = $6, delay_seconds = $7, max_requests_per_hour = $8,
			respect_robots = $9, user_agent = $10, updated_at = $11, last_run_at = $12,
			next_run_at = $13
		WHERE id = $1
		RETURNING ` + targetColumns
	updated, err := scanTarget(s.pool.QueryRow(ctx, query,
		t.ID, t.Name, t.URL, t.Status, t.Frequency, t.CustomIntervalMinutes, t.DelaySeconds,
		t.MaxRequestsPerHour, t.RespectRobots, t.UserAgent, t.UpdatedAt, t.LastRunAt, t.NextRunAt,
	))
	if err != nil {
		return scraper.Target{}, wrap("update target", err)
	}
	return updated, nil
}

// DeleteTarget removes a target; foreign keys cascade to its dependents.
func (s *Store) DeleteTarget(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM targets WHERE id = $1`, id)
	if err != nil {
		return wrap("delete target", err)
	}
	if tag.RowsAffected() == 0 {
		return scraper.ErrNotFound
	}
	return nil
}

// ListDueTargets returns active targets whose next run is at or before now.
func (s *Store) ListDueTargets(ctx context.Context, now time.Time, limit int) ([]scraper.Target, error) {
	query := `SELECT ` + targetColumns + ` FROM targets
		WHERE status = 'active' AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at, id
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, now, limitArg(limit))
	if err != nil {
		return nil, wrap("list due targets", err)
	}
	return collect(rows, "list due targets", scanTarget)
}

// AdvanceSchedule moves last/next run forward only if next_run_at still equals observedNext.
func (s *Store) AdvanceSchedule(ctx context.Context, id int64, observedNext, lastRun, nextRun time.Time) (bool, error) {
	query := `
		UPDATE targets SET last_run_at = $2, next_run_at = $3
		WHERE id = $1 AND next_run_at = $4`
	tag, err := s.pool.Exec(ctx, query, id, lastRun, nextRun, observedNext)
	if err != nil {
		return false, wrap("advance schedule", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseSchedule restores a schedule claim made by AdvanceSchedule.
func (s *Store) ReleaseSchedule(ctx context.Context, id int64, claimedNext time.Time, lastRun *time.Time, nextRun time.Time) (bool, error) {
	query := `
		UPDATE targets SET last_run_at = $2, next_run_at = $3
		WHERE id = $1 AND next_run_at = $4`
	tag, err := s.pool.Exec(ctx, query, id, lastRun, nextRun, claimedNext)
	if err != nil {
		return false, wrap("release schedule", err)
	}
	return tag.RowsAffected() == 1, nil
}

const ruleColumns = `id, target_id, name, kind, selector, attribute, value_kind, priority, active`

func scanRule(row scanner) (scraper.Rule, error) {
	var r scraper.Rule
	err := row.Scan(&r.ID, &r.TargetID, &r.Name, &r.Kind, &r.Selector, &r.Attribute, &r.ValueKind, &r.Priority, &r.Active)
	return r, err
}

// UpsertRule inserts or replaces the rule keyed by (target_id, name).
func (s *Store) UpsertRule(ctx context.Context, r scraper.Rule) (scraper.Rule, error) {
	query := `
		INSERT INTO extraction_rules (target_id, name, kind, selector, attribute, value_kind, priority, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (target_id, name) DO UPDATE SET
			kind = EXCLUDED.kind, selector = EXCLUDED.selector, attribute = EXCLUDED.attribute,
			value_kind = EXCLUDED.value_kind, priority = EXCLUDED.priority, active = EXCLUDED.active
		RETURNING ` + ruleColumns
	saved, err := scanRule(s.pool.QueryRow(ctx, query,
		r.TargetID, r.Name, r.Kind, r.Selector, r.Attribute, r.ValueKind, r.Priority, r.Active,
	))
	if err != nil {
		return scraper.Rule{}, wrap("upsert rule", err)
	}
	return saved, nil
}

// ListRules returns a target's rules ordered by priority then name.
func (s *Store) ListRules(ctx context.Context, targetID int64, activeOnly bool) ([]scraper.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM extraction_rules
		WHERE target_id = $1 AND (NOT $2::boolean OR active)
		ORDER BY priority, name`
	rows, err := s.pool.Query(ctx, query, targetID, activeOnly)
	if err != nil {
		return nil, wrap("list rules", err)
	}
	return collect(rows, "list rules", scanRule)
}

// DeleteRule removes a rule by name.
func (s *Store) DeleteRule(ctx context.Context, targetID int64, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM extraction_rules WHERE target_id = $1 AND name = $2`, targetID, name)
	if err != nil {
		return wrap("delete rule", err)
	}
	if tag.RowsAffected() == 0 {
		return scraper.ErrNotFound
	}
	return nil
}
