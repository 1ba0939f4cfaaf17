// Package events fans state-change notifications out to connected
// clients over server-sent events, and provides the reconnecting
// subscriber clients use on the other end.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event types pushed to clients.
const (
	TypeNewEmail      = "new_email"
	TypeThreadUpdated = "thread_updated"
	TypeLabelChanged  = "label_changed"
	TypePing          = "ping"
)

// Event is the small record broadcast on every state change.
type Event struct {
	Type string     `json:"type"`
	Data *EventData `json:"data,omitempty"`
}

// EventData identifies what changed.
type EventData struct {
	ThreadID string `json:"threadId,omitempty"`
	EmailID  string `json:"emailId,omitempty"`
	LabelID  string `json:"labelId,omitempty"`
}

// Client is one connected stream. Events arrive on C; a client that
// cannot keep up has events dropped rather than blocking the broadcast.
type Client struct {
	C chan Event
}

// Hub is the process-local registry of connected streams. Delivery is
// best-effort and at-most-once per client: a disconnected or slow
// client simply misses events and reconciles by refetching. With
// multiple service instances a broadcast only reaches clients of the
// instance that produced it.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	buffer  int
	logger  zerolog.Logger
}

// NewHub creates a hub with the given per-client buffer size.
func NewHub(buffer int, logger zerolog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		clients: make(map[*Client]bool),
		buffer:  buffer,
		logger:  logger,
	}
}

// Subscribe registers a new client stream.
func (h *Hub) Subscribe() *Client {
	client := &Client{C: make(chan Event, h.buffer)}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", count).Msg("SSE client connected")
	return client
}

// Unsubscribe removes a client stream. Safe to call more than once.
func (h *Hub) Unsubscribe(client *Client) {
	h.mu.Lock()
	if h.clients[client] {
		delete(h.clients, client)
		close(client.C)
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", count).Msg("SSE client disconnected")
}

// Broadcast writes an event to every connected client without blocking
// on slow consumers: a full client buffer drops the event for that
// client only.
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.C <- event:
		default:
			h.logger.Warn().Str("type", event.Type).Msg("Dropping event for slow SSE client")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RunHeartbeat broadcasts a ping on every stream at the given interval
// so clients and intermediaries do not treat idle connections as dead.
// Blocks until the context is cancelled.
func (h *Hub) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Broadcast(Event{Type: TypePing})
		}
	}
}
