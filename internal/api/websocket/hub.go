package websocket

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evanreyes/promptloom/internal/engine/task"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	EventTaskStarted EventType = "task.started"
	EventTaskStopped EventType = "task.stopped"
	EventTaskFailed  EventType = "task.failed"
	EventTaskMetric  EventType = "task.metric"
)

// Event represents a WebSocket event
type Event struct {
	Type   EventType   `json:"type"`
	TaskID uuid.UUID   `json:"task_id"`
	Data   interface{} `json:"data"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID         string
	TaskID     uuid.UUID
	Send       chan *Event
	hub        *Hub
	unregister chan *Client
}

// Hub manages WebSocket connections and broadcasts
type Hub struct {
	// Registered clients per task ID
	clients map[uuid.UUID]map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Broadcast events to clients
	broadcast chan *Event

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Logger
	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Event, 256),
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

// registerClient registers a new client
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.TaskID] == nil {
		h.clients[client.TaskID] = make(map[*Client]bool)
	}

	h.clients[client.TaskID][client] = true

	h.logger.Info("WebSocket client registered",
		zap.String("client_id", client.ID),
		zap.String("task_id", client.TaskID.String()),
	)
}

// unregisterClient unregisters a client
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.TaskID]; ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			close(client.Send)

			// Clean up empty task maps
			if len(clients) == 0 {
				delete(h.clients, client.TaskID)
			}

			h.logger.Info("WebSocket client unregistered",
				zap.String("client_id", client.ID),
				zap.String("task_id", client.TaskID.String()),
			)
		}
	}
}

// broadcastEvent sends an event to all clients watching the task
func (h *Hub) broadcastEvent(event *Event) {
	h.mu.RLock()
	clients := h.clients[event.TaskID]
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	h.logger.Debug("Broadcasting event",
		zap.String("type", string(event.Type)),
		zap.String("task_id", event.TaskID.String()),
		zap.Int("clients", len(clients)),
	)

	for client := range clients {
		select {
		case client.Send <- event:
			// Event sent successfully
		default:
			// Client's send channel is full, unregister it
			h.unregisterClient(client)
		}
	}
}

// BroadcastTaskStarted broadcasts a task started event
func (h *Hub) BroadcastTaskStarted(taskID uuid.UUID) {
	h.broadcast <- &Event{Type: EventTaskStarted, TaskID: taskID}
}

// BroadcastTaskStopped broadcasts the terminal summary for a task
func (h *Hub) BroadcastTaskStopped(taskID uuid.UUID, summary task.Summary) {
	eventType := EventTaskStopped
	if summary.State == task.StateFailed {
		eventType = EventTaskFailed
	}
	h.broadcast <- &Event{Type: eventType, TaskID: taskID, Data: summary}
}

// BroadcastTaskMetric broadcasts a single realtime metric point
func (h *Hub) BroadcastTaskMetric(taskID uuid.UUID, point task.RealtimePoint) {
	h.broadcast <- &Event{Type: EventTaskMetric, TaskID: taskID, Data: point}
}

// GetClientCount returns the number of connected clients for a task
func (h *Hub) GetClientCount(taskID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.clients[taskID]; ok {
		return len(clients)
	}

	return 0
}

// MarshalEvent marshals an event to JSON
func MarshalEvent(event *Event) ([]byte, error) {
	return json.Marshal(event)
}
