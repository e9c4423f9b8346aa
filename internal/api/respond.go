package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/target-scraper/internal/scraper"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps the domain error taxonomy onto HTTP statuses.
// Unexpected failures are logged and reported without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	var (
		validation *scraper.ValidationError
		compliance *scraper.ComplianceError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.Is(err, scraper.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, scraper.ErrTargetDisabled):
		writeError(w, http.StatusConflict, scraper.ErrTargetDisabled.Error())
	case errors.Is(err, scraper.ErrInvalidTransition):
		writeError(w, http.StatusConflict, scraper.ErrInvalidTransition.Error())
	case errors.Is(err, scraper.ErrConflict):
		writeError(w, http.StatusConflict, "already exists")
	case errors.As(err, &compliance) && compliance.Reason == scraper.ComplianceRateLimit:
		writeError(w, http.StatusTooManyRequests, compliance.Error())
	case errors.As(err, &compliance):
		writeError(w, http.StatusForbidden, compliance.Error())
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", param))
		return 0, false
	}
	return id, true
}

// queryInt reads a positive integer parameter, clamping it to maxVal.
func queryInt(r *http.Request, name string, def, maxVal int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	if val > maxVal {
		val = maxVal
	}
	return val, nil
}
