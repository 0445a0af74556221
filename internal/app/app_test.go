package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/opsdeck/internal/common"
	"github.com/ternarybob/opsdeck/internal/models"
)

// scriptedRelay replays a job's events once the client subscribes to its channel
type scriptedRelay struct {
	upgrader websocket.Upgrader
	script   map[string][]map[string]interface{}

	mu     sync.Mutex
	frames []models.ControlFrame
}

func (r *scriptedRelay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var frame models.ControlFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		r.mu.Lock()
		r.frames = append(r.frames, frame)
		r.mu.Unlock()

		if frame.Type != models.ControlSubscribe {
			continue
		}
		for _, ev := range r.script[frame.Channel] {
			inner, _ := json.Marshal(ev)
			outer, _ := json.Marshal(map[string]interface{}{
				"channel": "ws_channel:" + frame.Channel,
				"data":    string(inner),
			})
			if err := conn.WriteMessage(websocket.TextMessage, outer); err != nil {
				return
			}
		}
	}
}

func (r *scriptedRelay) received() []models.ControlFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ControlFrame(nil), r.frames...)
}

func TestPreCheckEndToEnd(t *testing.T) {
	relay := &scriptedRelay{script: map[string][]map[string]interface{}{
		"job:pc-1": {
			{"event_type": "OPERATION_START", "data": map[string]interface{}{"total_steps": 2}},
			{"event_type": "ORCHESTRATOR_LOG", "message": `[STDOUT] STEP_COMPLETE:{"step":1,"message":"Connectivity ok"}`},
			{"event_type": "STEP_COMPLETE", "data": map[string]interface{}{"step": 2}, "message": "Storage ok"},
			{"event_type": "PRE_CHECK_COMPLETE", "data": map[string]interface{}{
				"pre_check_summary": map[string]interface{}{
					"total_checks": 2, "passed": 2, "warnings": 0, "critical_failures": 0, "can_proceed": true,
				},
			}},
		},
	}}
	relayServer := httptest.NewServer(relay)
	defer relayServer.Close()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"pc-1","ws_channel":"job:pc-1"}`))
	}))
	defer backend.Close()

	cfg := common.NewDefaultConfig()
	cfg.Relay.URL = "ws" + strings.TrimPrefix(relayServer.URL, "http")
	cfg.Relay.ReconnectInterval = "10ms"
	cfg.Backend.BaseURL = backend.URL
	cfg.Storage.Badger.Enabled = false
	cfg.Workflow.ProgressMode = common.ProgressModeImmediate
	cfg.Workflow.SettleDelay = "0s"

	application, err := New(cfg, arbor.NewLogger())
	require.NoError(t, err)
	application.Start()
	defer application.Close()

	require.Eventually(t, application.Relay.IsConnected, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handle, err := application.Workflow.StartPreCheck(ctx, models.OperationRequest{
		Command:        "code_upgrade",
		Hostname:       "10.0.0.1",
		Username:       "admin",
		Password:       "secret",
		ImageFilename:  "junos.tgz",
		TargetVersion:  "24.2R1",
		SelectedChecks: []string{"storage"},
	})
	require.NoError(t, err)
	assert.Equal(t, "job:pc-1", handle.Channel)

	snap, err := application.Workflow.WaitForPhase(ctx, models.PhaseReview)
	require.NoError(t, err)
	require.NotNil(t, snap.Summary)
	assert.True(t, snap.Summary.CanProceed)
	assert.Equal(t, 2, snap.CompletedSteps)
	assert.Equal(t, float64(100), snap.Progress.Displayed)

	assert.Eventually(t, func() bool {
		frames := relay.received()
		return len(frames) == 2 &&
			frames[0] == models.ControlFrame{Type: models.ControlSubscribe, Channel: "job:pc-1"} &&
			frames[1] == models.ControlFrame{Type: models.ControlUnsubscribe, Channel: "job:pc-1"}
	}, 3*time.Second, 10*time.Millisecond)
}
