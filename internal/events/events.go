// Package events publishes gateway and install lifecycle events.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeGatewayStart = "gateway.start"
	TypeGatewayStop  = "gateway.stop"
	TypeGatewayState = "gateway.state"
	TypeInstall      = "install"
)

// Event is one lifecycle notification.
type Event struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Outcome string         `json:"outcome"`
	Message string         `json:"message,omitempty"`
	Time    time.Time      `json:"time"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// New stamps an event with a fresh ID and the current time.
func New(typ, outcome, message string) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    typ,
		Outcome: outcome,
		Message: message,
		Time:    time.Now().UTC(),
	}
}

// With returns a copy of e carrying an extra field.
func (e Event) With(key string, value any) Event {
	fields := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}

// Publisher delivers events. Publish must not block for long; callers treat
// failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NoopPublisher drops every event (default when no broker is configured).
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                          { return nil }

// OrNoop returns p, or NoopPublisher when p is nil.
func OrNoop(p Publisher) Publisher {
	if p == nil {
		return NoopPublisher{}
	}
	return p
}
