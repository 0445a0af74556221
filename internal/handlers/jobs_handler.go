package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/opsdeck/internal/interfaces"
	"github.com/ternarybob/opsdeck/internal/models"
)

// JobsHandler serves persisted job history
type JobsHandler struct {
	storage interfaces.JobHistoryStorage
	logger  arbor.ILogger
}

// NewJobsHandler creates a jobs handler. storage may be nil when persistence is disabled.
func NewJobsHandler(storage interfaces.JobHistoryStorage, logger arbor.ILogger) *JobsHandler {
	return &JobsHandler{
		storage: storage,
		logger:  logger,
	}
}

// ListJobsHandler handles GET /api/jobs?limit=N
func (h *JobsHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) || !h.requireStorage(w) {
		return
	}

	jobs, err := h.storage.ListJobs(r.Context(), GetLimitParam(r, 50, 500))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.JobRecord{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// JobRoutesHandler handles GET /api/jobs/{id} and GET /api/jobs/{id}/logs
func (h *JobsHandler) JobRoutesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) || !h.requireStorage(w) {
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/")
	parts := strings.Split(rest, "/")
	jobID := parts[0]
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	switch {
	case len(parts) == 1:
		h.getJob(w, r, jobID)
	case len(parts) == 2 && parts[1] == "logs":
		h.getJobLogs(w, r, jobID)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

func (h *JobsHandler) getJob(w http.ResponseWriter, r *http.Request, jobID string) {
	record, err := h.storage.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}
	WriteJSON(w, http.StatusOK, record)
}

func (h *JobsHandler) getJobLogs(w http.ResponseWriter, r *http.Request, jobID string) {
	logs, err := h.storage.GetLogs(r.Context(), jobID, GetLimitParam(r, defaultLogLimit, maxLogLimit))
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job logs")
		WriteError(w, http.StatusInternalServerError, "Failed to get job logs")
		return
	}
	if logs == nil {
		logs = []models.JobLogEntry{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"logs":   logs,
		"count":  len(logs),
	})
}

func (h *JobsHandler) requireStorage(w http.ResponseWriter) bool {
	if h.storage == nil {
		WriteError(w, http.StatusServiceUnavailable, "Job history persistence is disabled")
		return false
	}
	return true
}
