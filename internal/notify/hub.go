// Package notify fans out connection status events to observers (websocket
// clients, logs). The supervisor is the only producer.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StatusEvent describes a visible connectivity change. QRCode carries the
// rendered enrollment code as a PNG data URL while enrollment is pending.
type StatusEvent struct {
	State  string    `json:"state"`
	QRCode string    `json:"qr,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Hub is an in-process publish/subscribe channel for status events. The
// latest event is replayed to new subscribers so a dashboard that connects
// mid-session immediately sees the current state.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]chan StatusEvent
	last *StatusEvent
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		logger: log.With(slog.String("component", "notify")),
		subs:   map[string]chan StatusEvent{},
	}
}

// Publish delivers the event to every subscriber. Slow subscribers drop
// events rather than block the producer.
func (h *Hub) Publish(ev StatusEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &ev
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("subscriber lagging, event dropped", slog.String("subscriber", id))
		}
	}
}

// Subscribe registers an observer. The returned cancel func must be called
// when the observer goes away.
func (h *Hub) Subscribe() (<-chan StatusEvent, func()) {
	id := uuid.NewString()
	ch := make(chan StatusEvent, 16)

	h.mu.Lock()
	h.subs[id] = ch
	if h.last != nil {
		ch <- *h.last
	}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}
