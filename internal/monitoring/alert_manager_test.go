package monitoring

import (
	"testing"

	"inference-ops-service/pkg/events"
	"inference-ops-service/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordEvents(bus *events.Bus) *[]events.Event {
	var got []events.Event
	bus.Subscribe(func(e events.Event) { got = append(got, e) })
	return &got
}

func countEvents(evts []events.Event, t events.EventType) int {
	n := 0
	for _, e := range evts {
		if e.Type == t {
			n++
		}
	}
	return n
}

func TestCheckAlertsErrorRateEscalatesInPlace(t *testing.T) {
	bus := events.NewBus()
	got := recordEvents(bus)
	am := NewAlertManager(bus)

	touched := am.CheckAlerts("ep-1", models.EndpointMetrics{ErrorRate: 6}, testThresholds)
	require.Len(t, touched, 1)
	first := touched[0]
	assert.Equal(t, models.AlertErrorRate, first.Type)
	assert.Equal(t, models.SeverityWarning, first.Severity)
	assert.Equal(t, 6.0, first.CurrentValue)

	touched = am.CheckAlerts("ep-1", models.EndpointMetrics{ErrorRate: 12}, testThresholds)
	require.Len(t, touched, 1)
	assert.Equal(t, first.ID, touched[0].ID)
	assert.Equal(t, first.TriggeredAt, touched[0].TriggeredAt)
	assert.Equal(t, models.SeverityCritical, touched[0].Severity)
	assert.Equal(t, 12.0, touched[0].CurrentValue)

	assert.Len(t, am.GetEndpointAlerts("ep-1", false), 1)
	assert.Equal(t, 1, countEvents(*got, events.AlertCreated))
}

func TestCheckAlertsSeverityTable(t *testing.T) {
	tests := []struct {
		name     string
		metrics  models.EndpointMetrics
		alert    models.AlertType
		severity models.AlertSeverity
	}{
		{"response time warning", models.EndpointMetrics{AvgResponseTime: 1500}, models.AlertResponseTime, models.SeverityWarning},
		{"response time critical", models.EndpointMetrics{AvgResponseTime: 2500}, models.AlertResponseTime, models.SeverityCritical},
		{"memory warning", models.EndpointMetrics{MemoryUtilization: 85}, models.AlertMemory, models.SeverityWarning},
		{"memory critical past 1.1x", models.EndpointMetrics{MemoryUtilization: 89}, models.AlertMemory, models.SeverityCritical},
		{"gpu stays warning", models.EndpointMetrics{GPUUtilization: 100}, models.AlertGPUUtilization, models.SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			am := NewAlertManager(nil)
			touched := am.CheckAlerts("ep-1", tt.metrics, testThresholds)
			require.Len(t, touched, 1)
			assert.Equal(t, tt.alert, touched[0].Type)
			assert.Equal(t, tt.severity, touched[0].Severity)
		})
	}
}

func TestCheckAlertsNothingBelowThreshold(t *testing.T) {
	am := NewAlertManager(nil)
	touched := am.CheckAlerts("ep-1", models.EndpointMetrics{ErrorRate: 5, AvgResponseTime: 1000, GPUUtilization: 90, MemoryUtilization: 80}, testThresholds)
	assert.Empty(t, touched)
	assert.Empty(t, am.GetActiveAlerts())
}

func TestAtMostOneUnresolvedAlertPerType(t *testing.T) {
	am := NewAlertManager(nil)
	for i := 0; i < 5; i++ {
		am.CheckAlerts("ep-1", models.EndpointMetrics{ErrorRate: 7, GPUUtilization: 99}, testThresholds)
		am.CheckAlerts("ep-2", models.EndpointMetrics{ErrorRate: 7}, testThresholds)
	}

	perKey := map[string]int{}
	for _, a := range am.GetActiveAlerts() {
		perKey[a.EndpointID+"/"+string(a.Type)]++
	}
	assert.Equal(t, map[string]int{
		"ep-1/error_rate":      1,
		"ep-1/gpu_utilization": 1,
		"ep-2/error_rate":      1,
	}, perKey)
}

func TestResolveAlertIsIdempotent(t *testing.T) {
	bus := events.NewBus()
	got := recordEvents(bus)
	am := NewAlertManager(bus)

	alert, created := am.CreateOrUpdateAlert("ep-1", models.AlertEndpointDown, models.SeverityCritical, "down", 0, 0)
	require.True(t, created)

	assert.True(t, am.ResolveAlert(alert.ID))
	resolved, err := am.GetAlert(alert.ID)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.NotNil(t, resolved.ResolvedAt)

	assert.False(t, am.ResolveAlert(alert.ID))
	assert.False(t, am.ResolveAlert("missing"))
	assert.Equal(t, 1, countEvents(*got, events.AlertResolved))
}

func TestRetriggerAfterResolveCreatesNewAlert(t *testing.T) {
	am := NewAlertManager(nil)
	first, _ := am.CreateOrUpdateAlert("ep-1", models.AlertMemory, models.SeverityWarning, "m", 80, 85)
	require.True(t, am.ResolveAlert(first.ID))

	second, created := am.CreateOrUpdateAlert("ep-1", models.AlertMemory, models.SeverityWarning, "m", 80, 86)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, am.GetEndpointAlerts("ep-1", false), 2)
	assert.Len(t, am.GetEndpointAlerts("ep-1", true), 1)
}

func TestResolveRecovered(t *testing.T) {
	am := NewAlertManager(nil)
	am.CheckAlerts("ep-1", models.EndpointMetrics{ErrorRate: 7, MemoryUtilization: 85}, testThresholds)
	require.Len(t, am.GetActiveAlerts(), 2)

	n := am.ResolveRecovered("ep-1", models.EndpointMetrics{ErrorRate: 1, MemoryUtilization: 85}, testThresholds)
	assert.Equal(t, 1, n)

	active := am.GetEndpointAlerts("ep-1", true)
	require.Len(t, active, 1)
	assert.Equal(t, models.AlertMemory, active[0].Type)
}

func TestAlertTypesAreClosed(t *testing.T) {
	for _, at := range models.AllAlertTypes() {
		assert.True(t, at.Valid(), at)
	}
	assert.False(t, models.AlertType("cpu").Valid())
}
