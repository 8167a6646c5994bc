// Package events carries monitoring and rollback notifications to subscribers.
package events

import (
	"sync"
	"time"
)

type EventType string

// Monitoring events.
const (
	EndpointAdded   EventType = "endpoint_added"
	EndpointRemoved EventType = "endpoint_removed"
	MetricsUpdated  EventType = "metrics_updated"
	HealthChanged   EventType = "health_changed"
	AlertCreated    EventType = "alert_created"
	AlertResolved   EventType = "alert_resolved"
	EndpointError   EventType = "endpoint_error"
)

// Snapshot and rollback events.
const (
	SnapshotCreated       EventType = "snapshotCreated"
	RollbackStarted       EventType = "rollbackStarted"
	RollbackStepStarted   EventType = "rollbackStepStarted"
	RollbackStepCompleted EventType = "rollbackStepCompleted"
	RollbackStepFailed    EventType = "rollbackStepFailed"
	RollbackCompleted     EventType = "rollbackCompleted"
	RollbackFailed        EventType = "rollbackFailed"
	RollbackCancelled     EventType = "rollbackCancelled"
	RollbackLog           EventType = "rollbackLog"
)

// Event is delivered to every subscriber. ResourceID is the endpoint id for
// monitoring events and the execution id for rollback events.
type Event struct {
	Type       EventType   `json:"type"`
	ResourceID string      `json:"resourceId"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    interface{} `json:"payload,omitempty"`
}

// Publisher is what producers depend on.
type Publisher interface {
	Publish(evt Event)
}

type Handler func(Event)

// Bus delivers events synchronously, in subscription order, on the publisher's
// goroutine. Handlers must not block.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
	order    []int
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.order = append(b.order, id)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}
