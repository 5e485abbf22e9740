// Package events fans out live updates to stream subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/micro-ha/ble-radar/internal/model"
)

// Kind names an event payload.
type Kind string

const (
	KindJournal Kind = "journal"
	KindDevices Kind = "devices"
)

// Event is one message pushed to subscribers.
type Event struct {
	Kind    Kind      `json:"kind"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// DevicesPayload summarizes a written scan batch.
type DevicesPayload struct {
	Total   int                  `json:"total"`
	Devices []model.DeviceRecord `json:"devices"`
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 32

// Hub broadcasts events without blocking publishers. A subscriber that
// falls behind loses events.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
	logger *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: map[int]chan Event{}, buffer: buffer, logger: logger.With("component", "events")}
}

// Subscribe returns an event channel and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *Hub) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.logger.Debug("subscriber lagging, event dropped", "subscriber", id, "kind", event.Kind)
		}
	}
}

// Subscribers counts active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// DevicesChanged publishes a written batch.
func (h *Hub) DevicesChanged(all []model.DeviceRecord, batch []model.DeviceRecord) {
	h.Publish(Event{Kind: KindDevices, Payload: DevicesPayload{Total: len(all), Devices: batch}})
}
