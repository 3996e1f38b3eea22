package ws

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Push channel event names.
const (
	EventInitialData    = "initial-data"
	EventRealtimeUpdate = "realtime-update"
	EventStatsUpdate    = "stats-update"
	EventAllData        = "all-data"
	EventRequestAllData = "request-all-data"
)

// Subscriber abstracts a streaming observer connection.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub owns the registry of connected observers. The observer count is
// derived from the registry size, never tracked separately.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]Subscriber)}
}

// Register adds an observer and returns its handle id.
func (h *Hub) Register(client Subscriber) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.clients[id] = client
	h.mu.Unlock()
	return id
}

// Unregister removes an observer; unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// Count reports the number of connected observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends payload to every observer. An observer whose Send
// fails is closed and evicted so it cannot hold up later deliveries.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	targets := make(map[string]Subscriber, len(h.clients))
	for id, client := range h.clients {
		targets[id] = client
	}
	h.mu.RUnlock()

	for id, client := range targets {
		if err := client.Send(payload); err != nil {
			client.Close()
			h.Unregister(id)
		}
	}
}

// SendTo delivers payload to a single observer.
func (h *Hub) SendTo(id string, payload []byte) {
	h.mu.RLock()
	client, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := client.Send(payload); err != nil {
		client.Close()
		h.Unregister(id)
	}
}

// Envelope frames a payload for the push channel.
func Envelope(event string, data any) ([]byte, error) {
	return json.Marshal(map[string]any{"event": event, "data": data})
}
