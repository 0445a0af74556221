package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/opsdeck/internal/common"
	"github.com/ternarybob/opsdeck/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

const writeWait = 5 * time.Second

// WSMessage is the envelope pushed to browser clients
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Push message types
const (
	MessageTypeHello       = "hello"
	MessageTypeWorkflow    = "workflow"
	MessageTypeLog         = "log"
	MessageTypeJobFinished = "job_finished"
)

// WebSocketHandler pushes workflow snapshots, log entries and finished jobs to browser clients
type WebSocketHandler struct {
	logger      arbor.ILogger
	workflow    WorkflowService
	clients     map[*websocket.Conn]bool
	clientMutex map[*websocket.Conn]*sync.Mutex
	mu          sync.RWMutex
	instanceID  string // Clients use this to detect a server restart
}

// NewWebSocketHandler creates a push handler. workflow supplies the initial snapshot for new clients.
func NewWebSocketHandler(workflow WorkflowService, instanceID string, logger arbor.ILogger) *WebSocketHandler {
	return &WebSocketHandler{
		logger:      logger,
		workflow:    workflow,
		clients:     make(map[*websocket.Conn]bool),
		clientMutex: make(map[*websocket.Conn]*sync.Mutex),
		instanceID:  instanceID,
	}
}

// HandleWebSocket upgrades the connection and keeps it registered until the client leaves
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	mutex := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = mutex
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	h.sendTo(conn, mutex, WSMessage{
		Type: MessageTypeHello,
		Payload: map[string]interface{}{
			"instance_id": h.instanceID,
			"version":     common.GetVersion(),
		},
	})
	if h.workflow != nil {
		if snap, err := h.workflow.Snapshot(r.Context()); err == nil {
			h.sendTo(conn, mutex, WSMessage{Type: MessageTypeWorkflow, Payload: snap})
		}
	}

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		clientCount := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client disconnected")
	}()

	// Clients only listen; reading keeps control frames flowing
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// SubscribeToWorkflowEvents forwards workflow events to every connected client
func (h *WebSocketHandler) SubscribeToWorkflowEvents(eventService interfaces.EventService) error {
	forward := map[interfaces.EventType]string{
		interfaces.EventWorkflowChanged: MessageTypeWorkflow,
		interfaces.EventLogAppended:     MessageTypeLog,
		interfaces.EventJobFinished:     MessageTypeJobFinished,
	}

	for eventType, messageType := range forward {
		messageType := messageType
		if err := eventService.Subscribe(eventType, func(ctx context.Context, event interfaces.Event) error {
			h.Broadcast(WSMessage{Type: messageType, Payload: event.Payload})
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// Broadcast sends msg to all connected clients
func (h *WebSocketHandler) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		if err := h.write(conn, mutexes[i], data); err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send to WebSocket client")
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHandler) sendTo(conn *websocket.Conn, mutex *sync.Mutex, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}
	if err := h.write(conn, mutex, data); err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send to WebSocket client")
	}
}

func (h *WebSocketHandler) write(conn *websocket.Conn, mutex *sync.Mutex, data []byte) error {
	mutex.Lock()
	defer mutex.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
