package schema

import "time"

// EventType is the category of an event on the shared queue.
type EventType string

const (
	EventFill         EventType = "fill"
	EventStatusChange EventType = "status_change"
)

// Event is the envelope published by strategy runners and the brokerage
// collaborator onto the shared queue. Exactly one of Fill/Status is set,
// matching Type.
type Event struct {
	Type       EventType         `json:"type"`
	Strategy   string            `json:"strategy"`
	Fill       *Fill             `json:"fill,omitempty"`
	Status     *OrderStatusEvent `json:"status,omitempty"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
}

// NewFillEvent wraps a fill for the queue.
func NewFillEvent(f Fill) Event {
	return Event{
		Type:       EventFill,
		Strategy:   f.Strategy,
		Fill:       &f,
		EnqueuedAt: time.Now().UTC(),
	}
}

// NewStatusEvent wraps a status transition for the queue.
func NewStatusEvent(s OrderStatusEvent) Event {
	return Event{
		Type:       EventStatusChange,
		Strategy:   s.Strategy,
		Status:     &s,
		EnqueuedAt: time.Now().UTC(),
	}
}
