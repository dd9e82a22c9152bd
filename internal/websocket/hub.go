package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Priya8975/notify-delivery/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// StatusEvent is a notification status transition pushed to feed clients.
type StatusEvent struct {
	Type             string         `json:"type"` // "status_changed"
	NotificationID   uuid.UUID      `json:"notification_id"`
	ServiceID        uuid.UUID      `json:"service_id"`
	NotificationType domain.Channel `json:"notification_type"`
	Status           domain.Status  `json:"status"`
	StatusReason     *string        `json:"status_reason,omitempty"`
	FeedbackType     *string        `json:"feedback_type,omitempty"`
	SentBy           *string        `json:"sent_by,omitempty"`
	Reference        *string        `json:"reference,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

type envelope struct {
	serviceID uuid.UUID
	data      []byte
}

// Hub manages WebSocket connections and broadcasts status events. A client
// connected with ?service_id= only receives that service's events.
type Hub struct {
	clients    map[*client]struct{}
	mu         sync.RWMutex
	broadcast  chan envelope
	register   chan *client
	unregister chan *client
	// done is closed when Run returns.
	done   chan struct{}
	logger *slog.Logger
}

type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	serviceID uuid.UUID
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's event loop until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			close(h.done)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", "total_clients", total)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("websocket client disconnected", "total_clients", total)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if c.serviceID != uuid.Nil && c.serviceID != msg.serviceID {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Client buffer full, drop it
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a status event to every interested client.
func (h *Hub) Broadcast(event StatusEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "error", err)
		return
	}

	select {
	case h.broadcast <- envelope{serviceID: event.ServiceID, data: data}:
	default:
		h.logger.Warn("websocket broadcast channel full, dropping event")
	}
}

// NotificationUpdated publishes an applied status change.
func (h *Hub) NotificationUpdated(n domain.Notification) {
	ts := n.CreatedAt
	if n.UpdatedAt != nil {
		ts = *n.UpdatedAt
	}
	h.Broadcast(StatusEvent{
		Type:             "status_changed",
		NotificationID:   n.ID,
		ServiceID:        n.ServiceID,
		NotificationType: n.Channel,
		Status:           n.Status,
		StatusReason:     n.StatusReason,
		FeedbackType:     n.FeedbackType,
		SentBy:           n.SentBy,
		Reference:        n.Reference,
		Timestamp:        ts,
	})
}

// HandleWebSocket upgrades HTTP connections to WebSocket and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var serviceID uuid.UUID
	if raw := r.URL.Query().Get("service_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid service_id", http.StatusBadRequest)
			return
		}
		serviceID = id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 256),
		serviceID: serviceID,
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump reads messages from the WebSocket connection (handles pings/disconnects).
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
