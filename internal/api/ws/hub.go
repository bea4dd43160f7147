package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/observability"
	"github.com/your-org/faceid/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client represents a connected WebSocket client.
type Client struct {
	conn  *websocket.Conn
	send  chan []byte
	types map[string]bool // optional event type filter
}

func (c *Client) wants(eventType string) bool {
	return len(c.types) == 0 || c.types[eventType]
}

type message struct {
	eventType string
	data      []byte
}

// Hub maintains active WebSocket clients and broadcasts identity events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

var _ identity.EventPublisher = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.remove(client)
			}
			h.mu.Unlock()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "types", len(client.types))

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			slog.Debug("ws client disconnected")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(msg.eventType) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Slow consumer, drop it.
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with mu held. Removing an unknown client is a no-op.
func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	observability.WSConnections.Dec()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastEvent queues an event for every interested client. When the
// broadcast buffer is full the event is dropped.
func (h *Hub) BroadcastEvent(event *dto.WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("marshal ws event", "error", err)
		return
	}
	select {
	case h.broadcast <- message{eventType: event.Type, data: data}:
	default:
		slog.Warn("ws broadcast buffer full, dropping event", "type", event.Type)
	}
}

// PublishIdentityEvent lets the engine publish straight to websocket clients
// when no message broker is configured. It also serves as the handler for
// events consumed from NATS.
func (h *Hub) PublishIdentityEvent(_ context.Context, ev identity.Event) error {
	h.BroadcastEvent(&dto.WSEvent{
		Type:           string(ev.Type),
		FaceID:         ev.FaceID,
		PreviousFaceID: ev.PreviousFaceID,
		Similarity:     ev.Similarity,
		Timestamp:      ev.Timestamp,
	})
	return nil
}

// HandleWS upgrades the request. ?types=enrolled,deleted limits delivery to
// those event types.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{
		conn:  conn,
		send:  make(chan []byte, 64),
		types: parseTypes(c.Query("types")),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func parseTypes(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	types := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[t] = true
		}
	}
	return types
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
