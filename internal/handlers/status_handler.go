package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/opsdeck/internal/common"
	"github.com/ternarybob/opsdeck/internal/models"
)

// ConnectionChecker reports the relay connection state
type ConnectionChecker interface {
	IsConnected() bool
}

// StatusHandler serves health and version endpoints
type StatusHandler struct {
	relay     ConnectionChecker
	startedAt time.Time
}

// NewStatusHandler creates a status handler
func NewStatusHandler(relay ConnectionChecker) *StatusHandler {
	return &StatusHandler{
		relay:     relay,
		startedAt: time.Now(),
	}
}

// HealthHandler handles GET /api/health. Always 200; relay state is reported, not enforced.
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	relay := models.ConnectionDisconnected
	if h.relay != nil && h.relay.IsConnected() {
		relay = models.ConnectionConnected
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"relay":      relay,
		"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
		"goroutines": common.GetGoroutineCount(),
	})
}

// VersionHandler handles GET /api/version
func (h *StatusHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, common.GetVersionInfo())
}
