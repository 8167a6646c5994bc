package monitoring

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"inference-ops-service/pkg/events"
	"inference-ops-service/pkg/logger"
	"inference-ops-service/pkg/models"

	"github.com/google/uuid"
)

var ErrAlertNotFound = errors.New("alert not found")

// thresholdAlertTypes are the alert types driven by metrics thresholds.
var thresholdAlertTypes = []models.AlertType{
	models.AlertErrorRate,
	models.AlertResponseTime,
	models.AlertGPUUtilization,
	models.AlertMemory,
}

type AlertManager struct {
	mu         sync.RWMutex
	alerts     map[string]*models.Alert
	byEndpoint map[string][]string
	events     events.Publisher
	now        func() time.Time
}

func NewAlertManager(publisher events.Publisher) *AlertManager {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &AlertManager{
		alerts:     make(map[string]*models.Alert),
		byEndpoint: make(map[string][]string),
		events:     publisher,
		now:        time.Now,
	}
}

// breach reports whether alertType is past its threshold and at which severity.
// Only the four threshold types can breach.
func breach(alertType models.AlertType, m models.EndpointMetrics, t models.AlertThresholds) (value, threshold float64, severity models.AlertSeverity, breached bool) {
	switch alertType {
	case models.AlertErrorRate:
		value, threshold = m.ErrorRate, t.ErrorRate
		severity = escalate(value, 2*threshold)
	case models.AlertResponseTime:
		value, threshold = m.AvgResponseTime, t.ResponseTime
		severity = escalate(value, 2*threshold)
	case models.AlertGPUUtilization:
		// GPU saturation never escalates past warning.
		value, threshold = m.GPUUtilization, t.GPUUtilization
		severity = models.SeverityWarning
	case models.AlertMemory:
		value, threshold = m.MemoryUtilization, t.MemoryUtilization
		severity = escalate(value, 1.1*threshold)
	case models.AlertUptime, models.AlertEndpointDown:
		return 0, 0, "", false
	default:
		return 0, 0, "", false
	}
	return value, threshold, severity, value > threshold
}

func escalate(value, criticalAt float64) models.AlertSeverity {
	if value > criticalAt {
		return models.SeverityCritical
	}
	return models.SeverityWarning
}

func alertMessage(alertType models.AlertType, value, threshold float64) string {
	switch alertType {
	case models.AlertErrorRate:
		return fmt.Sprintf("Error rate %.2f%% exceeds threshold %.2f%%", value, threshold)
	case models.AlertResponseTime:
		return fmt.Sprintf("Average response time %.0fms exceeds threshold %.0fms", value, threshold)
	case models.AlertGPUUtilization:
		return fmt.Sprintf("GPU utilization %.1f%% exceeds threshold %.1f%%", value, threshold)
	case models.AlertMemory:
		return fmt.Sprintf("Memory utilization %.1f%% exceeds threshold %.1f%%", value, threshold)
	case models.AlertUptime:
		return fmt.Sprintf("Uptime %.2f%% below threshold %.2f%%", value, threshold)
	case models.AlertEndpointDown:
		return "Endpoint is unreachable"
	default:
		return string(alertType)
	}
}

// CheckAlerts raises or refreshes an alert for every breached threshold and
// returns the alerts it touched.
func (am *AlertManager) CheckAlerts(endpointID string, m models.EndpointMetrics, t models.AlertThresholds) []models.Alert {
	var touched []models.Alert
	for _, alertType := range thresholdAlertTypes {
		value, threshold, severity, breached := breach(alertType, m, t)
		if !breached {
			continue
		}
		alert, _ := am.CreateOrUpdateAlert(endpointID, alertType, severity, alertMessage(alertType, value, threshold), threshold, value)
		touched = append(touched, alert)
	}
	return touched
}

// ResolveRecovered resolves open threshold alerts whose metric is back within
// its threshold.
func (am *AlertManager) ResolveRecovered(endpointID string, m models.EndpointMetrics, t models.AlertThresholds) int {
	resolved := 0
	for _, alertType := range thresholdAlertTypes {
		if _, _, _, breached := breach(alertType, m, t); breached {
			continue
		}
		if am.ResolveType(endpointID, alertType) {
			resolved++
		}
	}
	return resolved
}

// CreateOrUpdateAlert keeps at most one unresolved alert per endpoint and type.
// An existing one is updated in place and keeps its id and trigger time.
func (am *AlertManager) CreateOrUpdateAlert(endpointID string, alertType models.AlertType, severity models.AlertSeverity, message string, threshold, value float64) (models.Alert, bool) {
	am.mu.Lock()

	if existing := am.activeLocked(endpointID, alertType); existing != nil {
		existing.CurrentValue = value
		existing.Threshold = threshold
		existing.Message = message
		existing.Severity = severity
		alert := *existing
		am.mu.Unlock()
		return alert, false
	}

	alert := &models.Alert{
		ID:           uuid.New().String(),
		EndpointID:   endpointID,
		Type:         alertType,
		Severity:     severity,
		Message:      message,
		Threshold:    threshold,
		CurrentValue: value,
		TriggeredAt:  am.now(),
	}
	am.alerts[alert.ID] = alert
	am.byEndpoint[endpointID] = append(am.byEndpoint[endpointID], alert.ID)
	created := *alert
	am.mu.Unlock()

	logger.Warn("Alert created",
		logger.String("endpoint_id", endpointID),
		logger.String("type", string(alertType)),
		logger.String("severity", string(severity)),
		logger.Float64("value", value),
		logger.Float64("threshold", threshold))

	am.events.Publish(events.Event{Type: events.AlertCreated, ResourceID: endpointID, Payload: created})
	return created, true
}

// ResolveAlert marks an alert resolved. It returns false when the alert is
// unknown or already resolved.
func (am *AlertManager) ResolveAlert(alertID string) bool {
	am.mu.Lock()
	alert, ok := am.alerts[alertID]
	if !ok || alert.Resolved {
		am.mu.Unlock()
		return false
	}
	now := am.now()
	alert.Resolved = true
	alert.ResolvedAt = &now
	resolved := *alert
	am.mu.Unlock()

	logger.Info("Alert resolved",
		logger.String("endpoint_id", resolved.EndpointID),
		logger.String("alert_id", alertID),
		logger.String("type", string(resolved.Type)))

	am.events.Publish(events.Event{Type: events.AlertResolved, ResourceID: resolved.EndpointID, Payload: resolved})
	return true
}

// ResolveType resolves the open alert of alertType for endpointID, if any.
func (am *AlertManager) ResolveType(endpointID string, alertType models.AlertType) bool {
	am.mu.RLock()
	existing := am.activeLocked(endpointID, alertType)
	var id string
	if existing != nil {
		id = existing.ID
	}
	am.mu.RUnlock()

	if id == "" {
		return false
	}
	return am.ResolveAlert(id)
}

func (am *AlertManager) GetAlert(alertID string) (models.Alert, error) {
	am.mu.RLock()
	defer am.mu.RUnlock()
	alert, ok := am.alerts[alertID]
	if !ok {
		return models.Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
	}
	return *alert, nil
}

// GetEndpointAlerts returns the alerts of one endpoint in trigger order.
func (am *AlertManager) GetEndpointAlerts(endpointID string, activeOnly bool) []models.Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	alerts := make([]models.Alert, 0, len(am.byEndpoint[endpointID]))
	for _, id := range am.byEndpoint[endpointID] {
		alert := am.alerts[id]
		if activeOnly && alert.Resolved {
			continue
		}
		alerts = append(alerts, *alert)
	}
	return alerts
}

// GetActiveAlerts returns all unresolved alerts, newest first.
func (am *AlertManager) GetActiveAlerts() []models.Alert {
	am.mu.RLock()
	alerts := make([]models.Alert, 0)
	for _, alert := range am.alerts {
		if !alert.Resolved {
			alerts = append(alerts, *alert)
		}
	}
	am.mu.RUnlock()

	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].TriggeredAt.After(alerts[j].TriggeredAt)
	})
	return alerts
}

// DropEndpoint forgets every alert of an endpoint that is no longer monitored.
func (am *AlertManager) DropEndpoint(endpointID string) {
	am.mu.Lock()
	defer am.mu.Unlock()
	for _, id := range am.byEndpoint[endpointID] {
		delete(am.alerts, id)
	}
	delete(am.byEndpoint, endpointID)
}

// Restore re-registers unresolved alerts of an endpoint, typically read back
// from the state cache after a restart. Alerts of unknown type, resolved ones and
// types that already have an active alert are skipped. No events are emitted.
func (am *AlertManager) Restore(endpointID string, alerts []models.Alert) int {
	am.mu.Lock()
	defer am.mu.Unlock()
	restored := 0
	for _, a := range alerts {
		if a.EndpointID != endpointID || a.Resolved || !a.Type.Valid() || a.ID == "" {
			continue
		}
		if _, exists := am.alerts[a.ID]; exists || am.activeLocked(endpointID, a.Type) != nil {
			continue
		}
		alert := a
		am.alerts[alert.ID] = &alert
		am.byEndpoint[endpointID] = append(am.byEndpoint[endpointID], alert.ID)
		restored++
	}
	return restored
}

func (am *AlertManager) activeLocked(endpointID string, alertType models.AlertType) *models.Alert {
	for _, id := range am.byEndpoint[endpointID] {
		alert := am.alerts[id]
		if alert.Type == alertType && !alert.Resolved {
			return alert
		}
	}
	return nil
}
