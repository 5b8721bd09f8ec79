package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hollis-dev/quarry/internal/api/shared"
	"github.com/hollis-dev/quarry/internal/events"
)

const (
	// wsWriteTimeout bounds a single frame write to a slow client.
	wsWriteTimeout = 10 * time.Second

	// wsSendBuffer is the per-client event buffer. A client that falls this
	// far behind is disconnected rather than allowed to stall the emitter.
	wsSendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Status events carry no secrets and the API has no browser origin
	// restrictions, so cross-origin subscriptions are allowed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one connected subscriber.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	// taskID is the subscription filter; uuid.Nil subscribes to all tasks.
	taskID uuid.UUID
}

// WSHandler pushes task status events to WebSocket subscribers. It implements
// events.StatusHandler and is registered on the status emitter, so every
// durable status mutation reaches connected clients without polling.
type WSHandler struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewWSHandler creates a WSHandler ready to accept subscriptions.
func NewWSHandler(logger *slog.Logger) *WSHandler {
	return &WSHandler{
		logger:  logger.With("component", "ws_handler"),
		clients: make(map[*wsClient]struct{}),
	}
}

// HandleStatusEvent fans the event out to subscribers of the task and to
// firehose subscribers. Slow clients are dropped, never waited on.
func (h *WSHandler) HandleStatusEvent(ctx context.Context, event *events.StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.Lock()
	for client := range h.clients {
		if client.taskID != uuid.Nil && client.taskID != event.TaskID {
			continue
		}
		select {
		case client.send <- payload:
		default:
			h.dropLocked(client)
			h.logger.Warn("dropping slow websocket client",
				"task_filter", client.taskID)
		}
	}
	h.mu.Unlock()

	return nil
}

// StreamAll handles GET /api/ws: a firehose of every status event.
func (h *WSHandler) StreamAll(w http.ResponseWriter, r *http.Request) {
	h.subscribe(w, r, uuid.Nil)
}

// StreamTask handles GET /api/tasks/{id}/ws: events for a single task.
func (h *WSHandler) StreamTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return
	}
	h.subscribe(w, r, id)
}

// subscribe upgrades the connection and runs the client's pumps until it
// disconnects.
func (h *WSHandler) subscribe(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error to the client.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		taskID: taskID,
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", "task_filter", taskID)

	go h.writePump(client)
	h.readPump(client)
}

// readPump discards inbound frames; its job is to notice the disconnect.
func (h *WSHandler) readPump(client *wsClient) {
	defer func() {
		h.mu.Lock()
		h.dropLocked(client)
		h.mu.Unlock()
	}()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump forwards buffered events to the connection.
func (h *WSHandler) writePump(client *wsClient) {
	for payload := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.mu.Lock()
			h.dropLocked(client)
			h.mu.Unlock()
			return
		}
	}
	_ = client.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteTimeout))
	_ = client.conn.Close()
}

// Close disconnects all clients, typically during server shutdown.
func (h *WSHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.dropLocked(client)
	}
}

// dropLocked removes the client and closes its send channel. Callers hold
// h.mu. Safe to call twice for the same client.
func (h *WSHandler) dropLocked(client *wsClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
}

// Ensure WSHandler implements events.StatusHandler.
var _ events.StatusHandler = (*WSHandler)(nil)
