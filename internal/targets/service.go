// Package targets manages operator-facing target and rule configuration,
// applying defaults and validation before anything reaches the repository.
package targets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/target-scraper/internal/extract"
	"github.com/JakeFAU/target-scraper/internal/scraper"
)

// Field limits.
const (
	DefaultDelaySeconds       = 5
	DefaultMaxRequestsPerHour = 100
	DefaultRulePriority       = 1
	maxNameLength             = 255
	maxDelaySeconds           = 3600
	maxRequestsPerHour        = 10000
	maxCustomMinutes          = 10080
	maxRulePriority           = 100
)

// Store is the persistence the service needs.
type Store interface {
	scraper.TargetStore
	scraper.RuleStore
}

// Service validates and persists targets and their rules.
type Service struct {
	store     Store
	clock     scraper.Clock
	userAgent string
	logger    *zap.Logger
}

// New constructs a Service. userAgent fills targets created without one.
func New(store Store, clock scraper.Clock, userAgent string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, clock: clock, userAgent: userAgent, logger: logger}
}

// Create stores a new target, due immediately, together with any rules it carries.
func (s *Service) Create(ctx context.Context, t scraper.Target) (scraper.Target, error) {
	s.applyDefaults(&t)
	if err := validateTarget(t); err != nil {
		return scraper.Target{}, err
	}
	rules := t.Rules
	for i := range rules {
		applyRuleDefaults(&rules[i])
		if err := ValidateRule(rules[i]); err != nil {
			return scraper.Target{}, err
		}
	}
	if err := uniqueRuleNames(rules); err != nil {
		return scraper.Target{}, err
	}

	now := s.clock.Now()
	t.ID = 0
	t.CreatedAt = now
	t.UpdatedAt = now
	t.LastRunAt = nil
	t.NextRunAt = &now
	created, err := s.store.CreateTarget(ctx, t)
	if err != nil {
		return scraper.Target{}, fmt.Errorf("create target: %w", err)
	}
	for _, rule := range rules {
		rule.TargetID = created.ID
		if _, err := s.store.UpsertRule(ctx, rule); err != nil {
			// Deleting the target cascades to the rules already written.
			if delErr := s.store.DeleteTarget(context.WithoutCancel(ctx), created.ID); delErr != nil {
				s.logger.Error("remove partially created target", zap.Int64("target_id", created.ID), zap.Error(delErr))
			}
			return scraper.Target{}, fmt.Errorf("create rule %q: %w", rule.Name, err)
		}
	}
	s.logger.Info("target created", zap.Int64("target_id", created.ID), zap.String("name", created.Name))
	return s.Get(ctx, created.ID)
}

// Get returns a target with its rules.
func (s *Service) Get(ctx context.Context, id int64) (scraper.Target, error) {
	t, err := s.store.GetTarget(ctx, id)
	if err != nil {
		return scraper.Target{}, fmt.Errorf("get target: %w", err)
	}
	return t, nil
}

// List returns targets ordered by name.
func (s *Service) List(ctx context.Context, filter scraper.TargetFilter) ([]scraper.Target, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &scraper.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", filter.Status)}
	}
	targets, err := s.store.ListTargets(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	return targets, nil
}

// Update replaces a target's configuration. Schedule timestamps are kept,
// except that a cadence change recomputes the next run from the last one.
func (s *Service) Update(ctx context.Context, t scraper.Target) (scraper.Target, error) {
	current, err := s.store.GetTarget(ctx, t.ID)
	if err != nil {
		return scraper.Target{}, fmt.Errorf("get target: %w", err)
	}
	s.applyDefaults(&t)
	if err := validateTarget(t); err != nil {
		return scraper.Target{}, err
	}

	t.CreatedAt = current.CreatedAt
	t.CreatedBy = current.CreatedBy
	t.UpdatedAt = s.clock.Now()
	t.LastRunAt = current.LastRunAt
	t.NextRunAt = current.NextRunAt
	if current.LastRunAt != nil && current.Interval() != t.Interval() {
		next := scraper.NextRun(t, *current.LastRunAt)
		t.NextRunAt = &next
	}
	if t.NextRunAt == nil {
		now := s.clock.Now()
		t.NextRunAt = &now
	}
	updated, err := s.store.UpdateTarget(ctx, t)
	if err != nil {
		return scraper.Target{}, fmt.Errorf("update target: %w", err)
	}
	return s.Get(ctx, updated.ID)
}

// Delete removes a target and everything that hangs off it.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteTarget(ctx, id); err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	s.logger.Info("target deleted", zap.Int64("target_id", id))
	return nil
}

// UpsertRule validates and stores a rule keyed by (target, name).
func (s *Service) UpsertRule(ctx context.Context, targetID int64, rule scraper.Rule) (scraper.Rule, error) {
	rule.TargetID = targetID
	applyRuleDefaults(&rule)
	if err := ValidateRule(rule); err != nil {
		return scraper.Rule{}, err
	}
	saved, err := s.store.UpsertRule(ctx, rule)
	if err != nil {
		return scraper.Rule{}, fmt.Errorf("upsert rule: %w", err)
	}
	return saved, nil
}

// ListRules returns a target's rules in application order.
func (s *Service) ListRules(ctx context.Context, targetID int64) ([]scraper.Rule, error) {
	t, err := s.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if t.Rules == nil {
		return []scraper.Rule{}, nil
	}
	return t.Rules, nil
}

// DeleteRule removes a rule by name.
func (s *Service) DeleteRule(ctx context.Context, targetID int64, name string) error {
	if err := s.store.DeleteRule(ctx, targetID, name); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}

func (s *Service) applyDefaults(t *scraper.Target) {
	t.Name = strings.TrimSpace(t.Name)
	t.URL = strings.TrimSpace(t.URL)
	if t.Status == "" {
		t.Status = scraper.TargetStatusActive
	}
	if t.Frequency == "" {
		t.Frequency = scraper.FrequencyDaily
	}
	if t.DelaySeconds == 0 {
		t.DelaySeconds = DefaultDelaySeconds
	}
	if t.MaxRequestsPerHour == 0 {
		t.MaxRequestsPerHour = DefaultMaxRequestsPerHour
	}
	if strings.TrimSpace(t.UserAgent) == "" {
		t.UserAgent = s.userAgent
	}
}

func validateTarget(t scraper.Target) error {
	if t.Name == "" || len(t.Name) > maxNameLength {
		return &scraper.ValidationError{Field: "name", Reason: fmt.Sprintf("must be 1-%d characters", maxNameLength)}
	}
	u, err := url.Parse(t.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &scraper.ValidationError{Field: "url", Reason: "must be an absolute http(s) URL"}
	}
	if !t.Status.Valid() {
		return &scraper.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", t.Status)}
	}
	if !t.Frequency.Valid() {
		return &scraper.ValidationError{Field: "frequency", Reason: fmt.Sprintf("unknown frequency %q", t.Frequency)}
	}
	if t.Frequency == scraper.FrequencyCustom {
		if t.CustomIntervalMinutes == nil {
			return &scraper.ValidationError{Field: "custom_interval_minutes", Reason: "required for custom frequency"}
		}
	}
	if m := t.CustomIntervalMinutes; m != nil && (*m < 1 || *m > maxCustomMinutes) {
		return &scraper.ValidationError{Field: "custom_interval_minutes", Reason: fmt.Sprintf("must be 1-%d", maxCustomMinutes)}
	}
	if t.DelaySeconds < 1 || t.DelaySeconds > maxDelaySeconds {
		return &scraper.ValidationError{Field: "delay_seconds", Reason: fmt.Sprintf("must be 1-%d", maxDelaySeconds)}
	}
	if t.MaxRequestsPerHour < 1 || t.MaxRequestsPerHour > maxRequestsPerHour {
		return &scraper.ValidationError{Field: "max_requests_per_hour", Reason: fmt.Sprintf("must be 1-%d", maxRequestsPerHour)}
	}
	return nil
}

func applyRuleDefaults(r *scraper.Rule) {
	r.Name = strings.TrimSpace(r.Name)
	if r.ValueKind == "" {
		r.ValueKind = scraper.ValueKindText
	}
	if r.Priority == 0 {
		r.Priority = DefaultRulePriority
	}
}

// ValidateRule checks a rule's fields and compiles its selector.
func ValidateRule(r scraper.Rule) error {
	if r.Name == "" || len(r.Name) > maxNameLength {
		return &scraper.ValidationError{Field: "name", Reason: fmt.Sprintf("must be 1-%d characters", maxNameLength)}
	}
	if !r.Kind.Valid() {
		return &scraper.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown rule kind %q", r.Kind)}
	}
	if strings.TrimSpace(r.Selector) == "" {
		return &scraper.ValidationError{Field: "selector", Reason: "is required"}
	}
	if !r.ValueKind.Valid() {
		return &scraper.ValidationError{Field: "value_kind", Reason: fmt.Sprintf("unknown value kind %q", r.ValueKind)}
	}
	if r.Priority < 1 || r.Priority > maxRulePriority {
		return &scraper.ValidationError{Field: "priority", Reason: fmt.Sprintf("must be 1-%d", maxRulePriority)}
	}
	if err := extract.Compile(r); err != nil {
		return &scraper.ValidationError{Field: "selector", Reason: err.Error()}
	}
	return nil
}

func uniqueRuleNames(rules []scraper.Rule) error {
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if _, dup := seen[r.Name]; dup {
			return &scraper.ValidationError{Field: "extraction_rules", Reason: fmt.Sprintf("duplicate rule name %q", r.Name)}
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}

// IsValidation reports whether err is an input validation failure.
func IsValidation(err error) bool {
	var v *scraper.ValidationError
	return errors.As(err, &v)
}
