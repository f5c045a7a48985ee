package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"pideck/internal/logging"
	"pideck/internal/models"
)

const clientSendBuffer = 16

// WebSocketMessage is the envelope for everything pushed over /ws.
type WebSocketMessage struct {
	Type      string          `json:"type"` // "snapshot", "alerts", "error"
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ClientConnection is a subscriber registered with the hub. The transport
// side drains Send; the hub closes it on unregister.
type ClientConnection struct {
	ID   string
	Send chan WebSocketMessage
}

func NewClientConnection(id string) *ClientConnection {
	return &ClientConnection{ID: id, Send: make(chan WebSocketMessage, clientSendBuffer)}
}

type directMessage struct {
	id  string
	msg WebSocketMessage
}

// WebSocketHub fans snapshots out to connected dashboards. Slow clients
// drop messages instead of holding up the others.
type WebSocketHub struct {
	clients    map[string]*ClientConnection
	broadcast  chan WebSocketMessage
	register   chan *ClientConnection
	unregister chan string
	direct     chan directMessage
	alerts     func() []models.ActiveAlert
	done       chan struct{}
	mu         sync.RWMutex
	clock      Clock
	logger     *slog.Logger
}

// NewWebSocketHub creates a hub. alerts, when set, is consulted on every
// snapshot so clients also receive the active alert list.
func NewWebSocketHub(alerts func() []models.ActiveAlert, clock Clock, logger *slog.Logger) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[string]*ClientConnection),
		broadcast:  make(chan WebSocketMessage, 64),
		register:   make(chan *ClientConnection),
		unregister: make(chan string),
		direct:     make(chan directMessage),
		alerts:     alerts,
		done:       make(chan struct{}),
		clock:      orSystemClock(clock),
		logger:     logging.OrDiscard(logger),
	}
}

// Run owns the client set until ctx is cancelled.
func (h *WebSocketHub) Run(ctx context.Context) error {
	defer func() {
		close(h.done)
		h.closeAll()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client connected", "client", client.ID, "total", total)

		case id := <-h.unregister:
			h.mu.Lock()
			if client, ok := h.clients[id]; ok {
				delete(h.clients, id)
				close(client.Send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("ws client disconnected", "client", id, "total", total)

		case d := <-h.direct:
			h.mu.RLock()
			if client, ok := h.clients[d.id]; ok {
				select {
				case client.Send <- d.msg:
				default:
				}
			}
			h.mu.RUnlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.Send <- msg:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *WebSocketHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		close(client.Send)
		delete(h.clients, id)
	}
}

// Register blocks until the hub has accepted the client or ctx ends.
func (h *WebSocketHub) Register(ctx context.Context, client *ClientConnection) bool {
	select {
	case h.register <- client:
		return true
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
}

func (h *WebSocketHub) Unregister(ctx context.Context, id string) {
	select {
	case h.unregister <- id:
	case <-ctx.Done():
	case <-h.done:
	}
}

// SendTo queues msg for a single registered client. Delivery happens on the
// hub goroutine, which also owns closing Send, so it is safe to race with
// shutdown. It reports false when the hub stopped or ctx ended first.
func (h *WebSocketHub) SendTo(ctx context.Context, id string, msg WebSocketMessage) bool {
	select {
	case h.direct <- directMessage{id: id, msg: msg}:
		return true
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
}

func (h *WebSocketHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements SnapshotPublisher. It never blocks the poll loop.
func (h *WebSocketHub) Publish(snap models.SystemSnapshot) {
	h.send("snapshot", snap)
	if h.alerts != nil {
		h.send("alerts", h.alerts())
	}
}

// Message wraps payload in the envelope clients expect.
func (h *WebSocketHub) Message(kind string, payload any) (WebSocketMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return WebSocketMessage{}, err
	}
	return WebSocketMessage{Type: kind, Timestamp: h.clock.Now(), Data: data}, nil
}

func (h *WebSocketHub) send(kind string, payload any) {
	msg, err := h.Message(kind, payload)
	if err != nil {
		h.logger.Error("ws payload marshal failed", "type", kind, "error", err)
		return
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Debug("ws broadcast queue full, dropping", "type", kind)
	}
}
