package server

import (
	"net/http"

	"github.com/ternarybob/opsdeck/internal/handlers"
)

// setupRoutes configures the API routes. /ws is mounted separately by buildHandler.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// API routes - Workflow
	mux.HandleFunc("/api/workflow", s.app.WorkflowHandler.GetWorkflowHandler)           // GET - current snapshot
	mux.HandleFunc("/api/workflow/logs", s.app.WorkflowHandler.GetLogsHandler)          // GET - log history
	mux.HandleFunc("/api/workflow/pre-check", s.app.WorkflowHandler.PreCheckHandler)    // POST - start pre-check
	mux.HandleFunc("/api/workflow/execute", s.app.WorkflowHandler.ExecuteHandler)       // POST - start reviewed operation
	mux.HandleFunc("/api/workflow/reset", s.app.WorkflowHandler.ResetHandler)           // POST - back to configure

	// API routes - Job history
	mux.HandleFunc("/api/jobs", s.app.JobsHandler.ListJobsHandler)   // GET - finished jobs
	mux.HandleFunc("/api/jobs/", s.app.JobsHandler.JobRoutesHandler) // GET /{id}, /{id}/logs

	// API routes - System
	mux.HandleFunc("/api/health", s.app.StatusHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.StatusHandler.VersionHandler)

	mux.HandleFunc("/", s.handleNotFound)

	return mux
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	handlers.WriteError(w, http.StatusNotFound, "Not found: "+r.URL.Path)
}
