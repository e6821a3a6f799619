// Package bus carries orchestrator lifecycle events between components.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one orchestrator occurrence published on a dotted subject.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// NewEvent stamps an event with a fresh id and UTC timestamp.
func NewEvent(eventType, source string, data map[string]interface{}) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler consumes one event. Errors are logged by the bus, not retried.
type Handler func(ctx context.Context, event *Event) error

// Subscription is a live handler registration.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus publishes orchestrator events and fans them out to subscribers.
// Subjects are dotted names; subscription patterns may use the NATS
// wildcards "*" (one token) and ">" (the rest of the subject).
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(pattern string, handler Handler) (Subscription, error)
	Close()
	IsConnected() bool
}
