package api

import (
	"net/http"
	"strconv"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := scraper.JobFilter{Limit: limit}
	if raw := r.URL.Query().Get("target_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid target_id")
			return
		}
		filter.TargetID = id
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := scraper.JobStatus(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = status
	}
	jobs, err := s.deps.Reader.ListJobs(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, "list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []scraper.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "job_id")
	if !ok {
		return
	}
	job, err := s.deps.Reader.GetJob(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "job_id")
	if !ok {
		return
	}
	job, err := s.deps.Ops.Cancel(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "cancel job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) getJobRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "job_id")
	if !ok {
		return
	}
	rec, err := s.deps.Reader.GetRecordByJob(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "get record", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) processRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "record_id")
	if !ok {
		return
	}
	rec, err := s.deps.Ops.ProcessRecord(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "process record", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) archiveRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "record_id")
	if !ok {
		return
	}
	rec, err := s.deps.Ops.ArchiveRecord(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "archive record", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
