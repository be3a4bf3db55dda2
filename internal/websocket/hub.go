package websocket

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// Event types pushed to connected intake dashboards
const (
	EventItemMapped       = "item_mapped"
	EventItemUpdated      = "item_updated"
	EventSessionFinalized = "session_finalized"
	EventCardTransition   = "card_transition"
	EventBoxUpdated       = "box_updated"
)

// Event is the envelope for all pushed messages
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Hub maintains the set of active clients and broadcasts intake events to
// every connected dashboard.
type Hub struct {
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	mu  sync.RWMutex
	log *logrus.Logger
}

// NewHub creates a new Hub instance
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[string]*Client),
		log:        log,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if old, ok := h.clients[client.id]; ok {
				close(old.send)
			}
			h.clients[client.id] = client
			h.mu.Unlock()
			h.log.Debugf("Dashboard client connected: %s", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debugf("Dashboard client disconnected: %s", client.id)

		case message := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client buffer full, drop the message for that client
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast pushes an event to every connected client. Safe to call from any
// goroutine; drops the event if the hub is saturated so request handlers
// never block on slow dashboards.
func (h *Hub) Broadcast(eventType string, payload interface{}) {
	msg, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		h.log.Warnf("Failed to marshal %s event: %v", eventType, err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("Event broadcast buffer full, dropping event")
	}
}
