package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

const (
	defaultMetricDays = 30
	maxMetricDays     = 365
	defaultLogLimit   = 100
	maxLogLimit       = 1000
	defaultTargetList = 100
	maxTargetList     = 1000
)

type targetRequest struct {
	Name                  string        `json:"name"`
	URL                   string        `json:"url"`
	Status                string        `json:"status"`
	Frequency             string        `json:"frequency"`
	CustomIntervalMinutes *int          `json:"custom_interval_minutes"`
	DelaySeconds          int           `json:"delay_seconds"`
	MaxRequestsPerHour    int           `json:"max_requests_per_hour"`
	RespectRobots         *bool         `json:"respect_robots"`
	UserAgent             string        `json:"user_agent"`
	CreatedBy             string        `json:"created_by"`
	Rules                 []ruleRequest `json:"extraction_rules"`
}

// toTarget converts the request; respect_robots defaults to true.
func (req targetRequest) toTarget() scraper.Target {
	respect := true
	if req.RespectRobots != nil {
		respect = *req.RespectRobots
	}
	t := scraper.Target{
		Name:                  req.Name,
		URL:                   req.URL,
		Status:                scraper.TargetStatus(req.Status),
		Frequency:             scraper.Frequency(req.Frequency),
		CustomIntervalMinutes: req.CustomIntervalMinutes,
		DelaySeconds:          req.DelaySeconds,
		MaxRequestsPerHour:    req.MaxRequestsPerHour,
		RespectRobots:         respect,
		UserAgent:             req.UserAgent,
		CreatedBy:             req.CreatedBy,
	}
	for _, rule := range req.Rules {
		t.Rules = append(t.Rules, rule.toRule())
	}
	return t
}

type ruleRequest struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Selector  string `json:"selector"`
	Attribute string `json:"attribute"`
	ValueKind string `json:"value_kind"`
	Priority  int    `json:"priority"`
	Active    *bool  `json:"active"`
}

func (req ruleRequest) toRule() scraper.Rule {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return scraper.Rule{
		Name:      req.Name,
		Kind:      scraper.RuleKind(req.Kind),
		Selector:  req.Selector,
		Attribute: req.Attribute,
		ValueKind: scraper.ValueKind(req.ValueKind),
		Priority:  req.Priority,
		Active:    active,
	}
}

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultTargetList, maxTargetList)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := scraper.TargetFilter{
		Status: scraper.TargetStatus(r.URL.Query().Get("status")),
		Limit:  limit,
	}
	targets, err := s.deps.Targets.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, "list targets", err)
		return
	}
	if targets == nil {
		targets = []scraper.Target{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": targets})
}

func (s *Server) createTarget(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	target, err := s.deps.Targets.Create(r.Context(), req.toTarget())
	if err != nil {
		s.writeServiceError(w, "create target", err)
		return
	}
	writeJSON(w, http.StatusCreated, target)
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "target_id")
	if !ok {
		return
	}
	target, err := s.deps.Targets.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "get target", err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// updateTarget replaces the target's configuration. Rules are managed
// through the rules endpoints and are ignored here.
func (s *Server) updateTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "target_id")
	if !ok {
		return
	}
	var req targetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t := req.toTarget()
	t.ID = id
	t.Rules = nil
	target, err := s.deps.Targets.Update(r.Context(), t)
	if err != nil {
		s.writeServiceError(w, "update target", err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

func (s *Server) deleteTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "target_id")
	if !ok {
		return
	}
	if err := s.deps.Targets.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, "delete target", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) runTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "target_id")
	if !ok {
		return
	}
	job, err := s.deps.Ops.RunNow(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "run target", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "status": job.Status})
}

func (s *Server) targetUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "target_id")
	if !ok {
		return
	}
	target, err := s.deps.Targets.Get(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "get target", err)
		return
	}
	used, err := s.deps.Usage.Usage(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "read usage", err)
		return
	}
	limit := int64(target.MaxRequestsPerHour)
	writeJSON(w, http.StatusOK, map[string]any{
		"target_id": id,
		"hour":      s.deps.Clock.Now().UTC().Truncate(time.Hour),
		"used":      used,
		"limit":     limit,
		"remaining": max(limit-used, 0),
	})
}

func (s *Server) targetMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "target_id")
	if !ok {
		return
	}
	days, err := queryInt(r, "days", defaultMetricDays, maxMetricDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := s.deps.Targets.Get(r.Context(), id); err != nil {
		s.writeServiceError(w, "get target", err)
		return
	}
	since := s.deps.Clock.Now().AddDate(0, 0, -(days - 1))
	rows, err := s.deps.Reader.ListMetrics(r.Context(), id, since)
	if err != nil {
		s.writeServiceError(w, "list metrics", err)
		return
	}
	if rows == nil {
		rows = []scraper.DailyMetric{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"target_id": id, "days": days, "metrics": rows})
}

func (s *Server) targetLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "target_id")
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit", defaultLogLimit, maxLogLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	level := scraper.LogLevel(r.URL.Query().Get("level"))
	if level != "" && !level.Valid() {
		writeError(w, http.StatusBadRequest, "invalid level")
		return
	}
	entries, err := s.deps.Reader.ListLogs(r.Context(), scraper.LogFilter{TargetID: id, Level: level, Limit: limit})
	if err != nil {
		s.writeServiceError(w, "list logs", err)
		return
	}
	if entries == nil {
		entries = []scraper.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "target_id")
	if !ok {
		return
	}
	rules, err := s.deps.Targets.ListRules(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "list rules", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) upsertRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "target_id")
	if !ok {
		return
	}
	var req ruleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rule, err := s.deps.Targets.UpsertRule(r.Context(), id, req.toRule())
	if err != nil {
		s.writeServiceError(w, "upsert rule", err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "target_id")
	if !ok {
		return
	}
	if err := s.deps.Targets.DeleteRule(r.Context(), id, chi.URLParam(r, "name")); err != nil {
		s.writeServiceError(w, "delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
