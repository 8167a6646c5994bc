package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var got []string

	bus.Subscribe(func(e Event) { got = append(got, "a:"+string(e.Type)) })
	bus.Subscribe(func(e Event) { got = append(got, "b:"+string(e.Type)) })

	bus.Publish(Event{Type: HealthChanged, ResourceID: "ep-1"})

	assert.Equal(t, []string{"a:health_changed", "b:health_changed"}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	count := 0
	unsubscribe := bus.Subscribe(func(Event) { count++ })

	bus.Publish(Event{Type: AlertCreated})
	unsubscribe()
	bus.Publish(Event{Type: AlertCreated})

	assert.Equal(t, 1, count)
}

func TestBusStampsTimestamp(t *testing.T) {
	bus := NewBus()
	var evt Event
	bus.Subscribe(func(e Event) { evt = e })

	bus.Publish(Event{Type: RollbackLog})

	assert.False(t, evt.Timestamp.IsZero())
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "monitoring.endpoint_error", RoutingKey(Event{Type: EndpointError}))
	assert.Equal(t, "monitoring.alert_created", RoutingKey(Event{Type: AlertCreated}))
	assert.Equal(t, "snapshot.snapshotCreated", RoutingKey(Event{Type: SnapshotCreated}))
	assert.Equal(t, "rollback.rollbackStepFailed", RoutingKey(Event{Type: RollbackStepFailed}))
}
