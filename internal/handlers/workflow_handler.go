package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/opsdeck/internal/models"
	"github.com/ternarybob/opsdeck/internal/services/workflow"
)

const (
	defaultLogLimit = 500
	maxLogLimit     = 5000
)

// WorkflowHandler exposes the workflow controller over HTTP
type WorkflowHandler struct {
	workflow WorkflowService
	logger   arbor.ILogger
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(workflow WorkflowService, logger arbor.ILogger) *WorkflowHandler {
	return &WorkflowHandler{
		workflow: workflow,
		logger:   logger,
	}
}

// jobStartedResponse is returned by the start actions
type jobStartedResponse struct {
	Status   string                  `json:"status"`
	Job      *models.JobHandle       `json:"job"`
	Workflow models.WorkflowSnapshot `json:"workflow"`
}

// GetWorkflowHandler handles GET /api/workflow
func (h *WorkflowHandler) GetWorkflowHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	snap, err := h.workflow.Snapshot(r.Context())
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

// GetLogsHandler handles GET /api/workflow/logs?limit=N
func (h *WorkflowHandler) GetLogsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	logs, err := h.workflow.Logs(r.Context(), GetLimitParam(r, defaultLogLimit, maxLogLimit))
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	if logs == nil {
		logs = []models.JobLogEntry{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}

// PreCheckHandler handles POST /api/workflow/pre-check with an OperationRequest body
func (h *WorkflowHandler) PreCheckHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.OperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	handle, err := h.workflow.StartPreCheck(r.Context(), req)
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	h.writeStarted(w, r, handle)
}

// ExecuteHandler handles POST /api/workflow/execute
func (h *WorkflowHandler) ExecuteHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	handle, err := h.workflow.StartExecute(r.Context())
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	h.writeStarted(w, r, handle)
}

// ResetHandler handles POST /api/workflow/reset
func (h *WorkflowHandler) ResetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if err := h.workflow.Reset(r.Context()); err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	WriteSuccess(w, "Workflow reset")
}

func (h *WorkflowHandler) writeStarted(w http.ResponseWriter, r *http.Request, handle *models.JobHandle) {
	snap, err := h.workflow.Snapshot(r.Context())
	if err != nil {
		h.writeWorkflowError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, jobStartedResponse{
		Status:   "started",
		Job:      handle,
		Workflow: snap,
	})
}

// writeWorkflowError maps controller errors to HTTP status codes
func (h *WorkflowHandler) writeWorkflowError(w http.ResponseWriter, err error) {
	var (
		validationErr *workflow.ValidationError
		connErr       *workflow.ConnectionError
		guardErr      *workflow.GuardError
		opErr         *workflow.OperationError
	)

	switch {
	case errors.As(err, &validationErr):
		WriteJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status": "error",
			"error":  validationErr.Error(),
			"fields": validationErr.Fields,
		})
	case errors.As(err, &connErr):
		WriteError(w, http.StatusServiceUnavailable, connErr.Error())
	case errors.As(err, &guardErr):
		WriteError(w, http.StatusConflict, guardErr.Error())
	case errors.As(err, &opErr):
		WriteError(w, http.StatusBadGateway, opErr.Error())
	case errors.Is(err, workflow.ErrControllerClosed):
		WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Workflow request failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
