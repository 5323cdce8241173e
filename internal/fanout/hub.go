package fanout

import (
	"encoding/json"
	"log/slog"
	"sync"

	"sewerwatch/internal/model"
)

// Event is the envelope pushed to live subscribers.
type Event struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Hub holds the set of connected live subscribers and pushes events to all
// of them. Broadcast never blocks the caller: a subscriber whose send
// buffer is full is dropped, not retried. There is no replay; a subscriber
// only receives the initial state snapshot sent at registration and
// whatever is broadcast while it stays connected.
type Hub struct {
	logger     *slog.Logger
	latest     *LatestStore
	sendBuffer int

	mu      sync.RWMutex
	clients map[*Client]bool
}

func NewHub(logger *slog.Logger, sendBuffer, snapshotLimit int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &Hub{
		logger:     logger,
		latest:     NewLatestStore(snapshotLimit),
		sendBuffer: sendBuffer,
		clients:    make(map[*Client]bool),
	}
}

// Register adds a subscriber and sends it the current full-state snapshot.
func (h *Hub) Register(c *Client) {
	snapshot, err := json.Marshal(Event{Event: "snapshot", Payload: h.latest.All()})
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	if err == nil {
		select {
		case c.send <- snapshot:
		default:
		}
	}
	if h.logger != nil {
		h.logger.Debug("subscriber registered", "subscribers", h.Count())
	}
}

// Unregister removes a subscriber. Removing one that is not registered is a
// no-op.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Broadcast pushes one event to every registered subscriber. Subscribers
// that cannot keep up are dropped.
func (h *Hub) Broadcast(event string, payload any) {
	data, err := json.Marshal(Event{Event: event, Payload: payload})
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("broadcast marshal failed", "event", event, "err", err)
		}
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
			if h.logger != nil {
				h.logger.Warn("slow subscriber dropped", "subscribers", len(h.clients))
			}
		}
	}
}

// BroadcastReading records the reading as the latest state for its manhole
// and pushes it as a sensor-data event.
func (h *Hub) BroadcastReading(ev model.ReadingEvent) {
	h.latest.Update(ev)
	h.Broadcast("sensor-data", ev)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
