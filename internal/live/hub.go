// Package live pushes committed fleet events to connected monitor clients
// over websockets.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-monitor/internal/fleet"
	"github.com/ukydev/fleet-monitor/internal/models"
)

const (
	broadcastBuffer = 256
	clientBuffer    = 64
)

// Hub maintains active websocket connections and broadcasts events to them.
// It implements fleet.Publisher; Publish never blocks the caller.
type Hub struct {
	clients    map[string]*Client
	broadcast  chan models.Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	upgrader   websocket.Upgrader

	mu sync.RWMutex
}

var _ fleet.Publisher = (*Hub)(nil)

// NewHub creates a hub. An empty allowedOrigins list, or one containing "*",
// accepts any origin.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan models.Event, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// Run starts the hub's main loop and returns when ctx is cancelled. All
// clients are disconnected on the way out.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			log.Info("Live hub stopped")
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			count := len(h.clients)
			h.mu.Unlock()
			log.WithFields(log.Fields{"client_id": client.ID, "user_id": client.UserID, "clients": count}).Info("Live client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.WithFields(log.Fields{"client_id": client.ID, "clients": count}).Info("Live client disconnected")

		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

func (h *Hub) fanOut(event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).Error("Failed to marshal live event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Slow consumer; drop it rather than stall the feed.
			close(client.send)
			delete(h.clients, id)
			log.WithField("client_id", id).Warn("Live client buffer full, disconnecting")
		}
	}
}

// Publish queues an event for broadcast. Events are dropped when the queue
// is full.
func (h *Hub) Publish(event models.Event) {
	select {
	case h.broadcast <- event:
	default:
		log.WithFields(log.Fields{"type": event.Type, "vehicle_id": event.VehicleID}).Warn("Live broadcast queue full, dropping event")
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and attaches the connection to the hub on
// behalf of the authenticated caller.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	client := &Client{
		ID:     uuid.NewString(),
		UserID: claims.UserID,
		conn:   conn,
		hub:    h,
		send:   make(chan []byte, clientBuffer),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
