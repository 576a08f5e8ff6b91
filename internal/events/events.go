package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventGridPublished    = "grid_published"
	EventRoomDegraded     = "room_degraded"
	EventBookingCreated   = "booking_created"
	EventBookingCancelled = "booking_cancelled"
	EventBookingSynced    = "booking_synced"
)

// GridEventPayload describes one published reconciliation result.
type GridEventPayload struct {
	Date       string   `json:"date"`
	Generation uint64   `json:"generation"`
	Rooms      int      `json:"rooms"`
	Degraded   []string `json:"degraded,omitempty"`
}

// RoomEventPayload describes a per-room source status change.
type RoomEventPayload struct {
	RoomID string `json:"room_id"`
	Status string `json:"status"`
}

// BookingEventPayload describes the minimal booking snapshot for event consumers.
type BookingEventPayload struct {
	BookingID string `json:"booking_id"`
	RoomID    string `json:"room_id"`
	Label     string `json:"label,omitempty"`
	StartSlot int    `json:"start_slot"`
	EndSlot   int    `json:"end_slot"`
	Synced    bool   `json:"synced"`
	Requester string `json:"requester,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
