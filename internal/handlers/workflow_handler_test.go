package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/opsdeck/internal/interfaces"
	"github.com/ternarybob/opsdeck/internal/models"
	"github.com/ternarybob/opsdeck/internal/services/workflow"
)

// fakeWorkflow is a scripted WorkflowService
type fakeWorkflow struct {
	snapshot   models.WorkflowSnapshot
	logs       []models.JobLogEntry
	startErr   error
	resetCalls int
	gotRequest models.OperationRequest
	gotLimit   int
}

func (f *fakeWorkflow) Snapshot(context.Context) (models.WorkflowSnapshot, error) {
	return f.snapshot, nil
}

func (f *fakeWorkflow) Logs(_ context.Context, limit int) ([]models.JobLogEntry, error) {
	f.gotLimit = limit
	return f.logs, nil
}

func (f *fakeWorkflow) StartPreCheck(_ context.Context, req models.OperationRequest) (*models.JobHandle, error) {
	f.gotRequest = req
	if f.startErr != nil {
		return nil, f.startErr
	}
	h := models.NewJobHandle("pc-1", "", models.PhasePreCheck)
	return &h, nil
}

func (f *fakeWorkflow) StartExecute(context.Context) (*models.JobHandle, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	h := models.NewJobHandle("ex-1", "", models.PhaseExecute)
	return &h, nil
}

func (f *fakeWorkflow) Reset(context.Context) error {
	f.resetCalls++
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGetWorkflow(t *testing.T) {
	wf := &fakeWorkflow{snapshot: models.WorkflowSnapshot{Phase: models.PhaseReview, InstanceID: "wf_1"}}
	h := NewWorkflowHandler(wf, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.GetWorkflowHandler(rec, httptest.NewRequest(http.MethodGet, "/api/workflow", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "review", body["phase"])
	assert.Equal(t, "wf_1", body["instance_id"])
}

func TestGetWorkflowRejectsPost(t *testing.T) {
	h := NewWorkflowHandler(&fakeWorkflow{}, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.GetWorkflowHandler(rec, httptest.NewRequest(http.MethodPost, "/api/workflow", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetLogsLimit(t *testing.T) {
	wf := &fakeWorkflow{}
	h := NewWorkflowHandler(wf, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.GetLogsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/workflow/logs?limit=999999", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxLogLimit, wf.gotLimit)
	body := decodeBody(t, rec)
	assert.Equal(t, []interface{}{}, body["logs"])
}

func TestPreCheckStarted(t *testing.T) {
	wf := &fakeWorkflow{snapshot: models.WorkflowSnapshot{Phase: models.PhasePreCheck}}
	h := NewWorkflowHandler(wf, arbor.NewLogger())

	body := `{"hostname":"10.0.0.1","username":"admin","password":"x","image_filename":"a.tgz","target_version":"1","selected_checks":["storage"]}`
	rec := httptest.NewRecorder()
	h.PreCheckHandler(rec, httptest.NewRequest(http.MethodPost, "/api/workflow/pre-check", strings.NewReader(body)))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "10.0.0.1", wf.gotRequest.Hostname)
	assert.Equal(t, []string{"storage"}, wf.gotRequest.SelectedChecks)

	resp := decodeBody(t, rec)
	assert.Equal(t, "started", resp["status"])
	job := resp["job"].(map[string]interface{})
	assert.Equal(t, "job:pc-1", job["channel"])
}

func TestPreCheckBadBody(t *testing.T) {
	h := NewWorkflowHandler(&fakeWorkflow{}, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.PreCheckHandler(rec, httptest.NewRequest(http.MethodPost, "/api/workflow/pre-check", strings.NewReader("{")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkflowErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", &workflow.ValidationError{Fields: []string{"hostname"}}, http.StatusBadRequest},
		{"connection", &workflow.ConnectionError{Action: "start execute", Status: models.ConnectionDisconnected}, http.StatusServiceUnavailable},
		{"guard", &workflow.GuardError{Action: "start execute", Phase: models.PhaseReview, Reason: "blocked"}, http.StatusConflict},
		{"operation", &workflow.OperationError{Slot: models.SlotExecute, Message: "failed", Err: errors.New("502")}, http.StatusBadGateway},
		{"closed", workflow.ErrControllerClosed, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewWorkflowHandler(&fakeWorkflow{startErr: tt.err}, arbor.NewLogger())

			rec := httptest.NewRecorder()
			h.ExecuteHandler(rec, httptest.NewRequest(http.MethodPost, "/api/workflow/execute", nil))

			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "error", decodeBody(t, rec)["status"])
		})
	}
}

func TestValidationErrorListsFields(t *testing.T) {
	wf := &fakeWorkflow{startErr: &workflow.ValidationError{Fields: []string{"hostname", "selected_checks"}}}
	h := NewWorkflowHandler(wf, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.PreCheckHandler(rec, httptest.NewRequest(http.MethodPost, "/api/workflow/pre-check", strings.NewReader("{}")))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []interface{}{"hostname", "selected_checks"}, decodeBody(t, rec)["fields"])
}

func TestReset(t *testing.T) {
	wf := &fakeWorkflow{}
	h := NewWorkflowHandler(wf, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.ResetHandler(rec, httptest.NewRequest(http.MethodPost, "/api/workflow/reset", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, wf.resetCalls)
}

// memoryJobs is an in-memory JobHistoryStorage
type memoryJobs struct {
	jobs map[string]*models.JobRecord
	logs map[string][]models.JobLogEntry
}

func (m *memoryJobs) SaveJob(_ context.Context, r *models.JobRecord) error {
	m.jobs[r.JobID] = r
	return nil
}

func (m *memoryJobs) GetJob(_ context.Context, id string) (*models.JobRecord, error) {
	if r, ok := m.jobs[id]; ok {
		return r, nil
	}
	return nil, interfaces.ErrJobNotFound
}

func (m *memoryJobs) ListJobs(context.Context, int) ([]*models.JobRecord, error) {
	var out []*models.JobRecord
	for _, r := range m.jobs {
		out = append(out, r)
	}
	return out, nil
}

func (m *memoryJobs) AppendLogs(_ context.Context, id string, entries []models.JobLogEntry) error {
	m.logs[id] = append(m.logs[id], entries...)
	return nil
}

func (m *memoryJobs) GetLogs(_ context.Context, id string, _ int) ([]models.JobLogEntry, error) {
	return m.logs[id], nil
}

func (m *memoryJobs) Close() error { return nil }

func TestJobRoutes(t *testing.T) {
	store := &memoryJobs{
		jobs: map[string]*models.JobRecord{"pc-1": {JobID: "pc-1", Status: models.JobStatusSucceeded}},
		logs: map[string][]models.JobLogEntry{"pc-1": {{Message: "hello"}}},
	}
	h := NewJobsHandler(store, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.ListJobsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = httptest.NewRecorder()
	h.JobRoutesHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/pc-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "succeeded", decodeBody(t, rec)["status"])

	rec = httptest.NewRecorder()
	h.JobRoutesHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/pc-1/logs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])

	rec = httptest.NewRecorder()
	h.JobRoutesHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.JobRoutesHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs/pc-1/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJobRoutesWithoutStorage(t *testing.T) {
	h := NewJobsHandler(nil, arbor.NewLogger())

	rec := httptest.NewRecorder()
	h.ListJobsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type connectedRelay bool

func (c connectedRelay) IsConnected() bool { return bool(c) }

func TestHealthAndVersion(t *testing.T) {
	h := NewStatusHandler(connectedRelay(true))

	rec := httptest.NewRecorder()
	h.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "connected", body["relay"])

	rec = httptest.NewRecorder()
	h.VersionHandler(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody(t, rec), "version")
}
