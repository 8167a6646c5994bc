package models

import "time"

// AlertType is the closed set of alert kinds.
type AlertType string

const (
	AlertErrorRate      AlertType = "error_rate"
	AlertResponseTime   AlertType = "response_time"
	AlertGPUUtilization AlertType = "gpu_utilization"
	AlertMemory         AlertType = "memory"
	AlertUptime         AlertType = "uptime"
	AlertEndpointDown   AlertType = "endpoint_down"
)

func AllAlertTypes() []AlertType {
	return []AlertType{
		AlertErrorRate,
		AlertResponseTime,
		AlertGPUUtilization,
		AlertMemory,
		AlertUptime,
		AlertEndpointDown,
	}
}

func (t AlertType) Valid() bool {
	switch t {
	case AlertErrorRate, AlertResponseTime, AlertGPUUtilization, AlertMemory, AlertUptime, AlertEndpointDown:
		return true
	}
	return false
}

type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a deduplicated threshold breach. At most one unresolved alert exists
// per (EndpointID, Type).
type Alert struct {
	ID           string        `json:"id"`
	EndpointID   string        `json:"endpointId"`
	Type         AlertType     `json:"type"`
	Severity     AlertSeverity `json:"severity"`
	Message      string        `json:"message"`
	Threshold    float64       `json:"threshold"`
	CurrentValue float64       `json:"currentValue"`
	TriggeredAt  time.Time     `json:"triggeredAt"`
	Resolved     bool          `json:"resolved"`
	ResolvedAt   *time.Time    `json:"resolvedAt,omitempty"`
}
