package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ericfisherdev/mailcode/internal/contract"
	"github.com/ericfisherdev/mailcode/internal/domain/model"
	"github.com/ericfisherdev/mailcode/internal/domain/port/driven"
)

var (
	_ driven.Broadcaster    = (*Hub)(nil)
	_ driven.BadgeIndicator = (*Hub)(nil)
)

// Metrics receives fan-out events. *telemetry.Metrics satisfies it.
type Metrics interface {
	ObserveBroadcast(action string)
	SetSubscribers(n int)
}

// Hub tracks connected subscribers and fans broadcasts out to them. It also
// holds the current badge so a newly connected popup can render it.
//
// Broadcast never blocks: a subscriber with a full queue misses the message.
type Hub struct {
	metrics Metrics

	mu      sync.RWMutex
	clients map[string]*Client
	badge   model.Badge
}

// NewHub creates an empty Hub. metrics may be nil.
func NewHub(metrics Metrics) *Hub {
	return &Hub{
		metrics: metrics,
		clients: make(map[string]*Client),
	}
}

// Join registers c and queues the current badge for it.
func (h *Hub) Join(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	badge := h.badge
	n := len(h.clients)
	h.mu.Unlock()

	h.setSubscribers(n)
	c.Enqueue(contract.NewBroadcast(model.Broadcast{Action: model.BroadcastBadgeUpdated, Badge: &badge}))
	slog.Debug("subscriber joined", "client", c.ID, "subscribers", n)
}

// Leave removes the client with id and closes it.
func (h *Hub) Leave(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.setSubscribers(n)
	c.Close()
	slog.Debug("subscriber left", "client", id, "subscribers", n)
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends b to every connected subscriber.
func (h *Hub) Broadcast(_ context.Context, b model.Broadcast) {
	out := contract.NewBroadcast(b)

	h.mu.RLock()
	dropped := 0
	for _, c := range h.clients {
		if !c.Enqueue(out) {
			dropped++
		}
	}
	n := len(h.clients)
	h.mu.RUnlock()

	if h.metrics != nil {
		h.metrics.ObserveBroadcast(string(b.Action))
	}
	if dropped > 0 {
		slog.Warn("broadcast dropped for slow subscribers", "action", string(b.Action), "dropped", dropped)
	}
	slog.Debug("broadcast sent", "action", string(b.Action), "subscribers", n)
}

// SetBadge records the badge and broadcasts it.
func (h *Hub) SetBadge(ctx context.Context, b model.Badge) error {
	h.mu.Lock()
	h.badge = b
	h.mu.Unlock()

	h.Broadcast(ctx, model.Broadcast{Action: model.BroadcastBadgeUpdated, Badge: &b})
	return nil
}

// Badge returns the current badge.
func (h *Hub) Badge() model.Badge {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.badge
}

func (h *Hub) setSubscribers(n int) {
	if h.metrics != nil {
		h.metrics.SetSubscribers(n)
	}
}
