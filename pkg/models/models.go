package models

import (
	"fmt"
	"time"
)

// HealthStatus is the derived health of a monitored endpoint.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
	HealthUnknown  HealthStatus = "unknown"
)

// Endpoint lifecycle states as reported by the provider.
const (
	EndpointRunning      = "RUNNING"
	EndpointInitializing = "INITIALIZING"
	EndpointThrottled    = "THROTTLED"
	EndpointStopped      = "STOPPED"
	EndpointTerminated   = "TERMINATED"
)

// NetworkSettings holds the network-facing part of an endpoint configuration.
type NetworkSettings struct {
	Ports       []string `json:"ports,omitempty"`
	IdleTimeout int      `json:"idleTimeout"`
	FlashBoot   bool     `json:"flashBoot"`
	WorkersMin  int      `json:"workersMin"`
	WorkersMax  int      `json:"workersMax"`
}

// EndpointState is the live configuration and status of a provider endpoint.
type EndpointState struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Status         string            `json:"status"`
	TemplateID     string            `json:"templateId"`
	GPUType        string            `json:"gpuType"`
	GPUCount       int               `json:"gpuCount"`
	ContainerImage string            `json:"containerImage"`
	EnvVars        map[string]string `json:"envVars,omitempty"`
	Network        NetworkSettings   `json:"network"`
	CostPerHour    float64           `json:"costPerHour"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// EndpointMetrics is one metrics reading. Rates and utilizations are percentages,
// AvgResponseTime is in milliseconds.
type EndpointMetrics struct {
	RequestsPerMinute float64   `json:"requestsPerMinute"`
	AvgResponseTime   float64   `json:"avgResponseTime"`
	ErrorRate         float64   `json:"errorRate"`
	GPUUtilization    float64   `json:"gpuUtilization"`
	MemoryUtilization float64   `json:"memoryUtilization"`
	ActiveWorkers     int       `json:"activeWorkers"`
	QueueDepth        int       `json:"queueDepth"`
	Timestamp         time.Time `json:"timestamp"`
}

// EndpointHealth is the provider's own readiness view of an endpoint.
type EndpointHealth struct {
	Status       string    `json:"status"`
	WorkersReady int       `json:"workersReady"`
	LastActivity time.Time `json:"lastActivity"`
}

// Ready reports whether the endpoint is running with at least one ready worker.
func (h EndpointHealth) Ready() bool {
	return h.Status == EndpointRunning && h.WorkersReady > 0
}

// EndpointUpdate is a partial configuration applied through the provider.
// Nil fields are left untouched.
type EndpointUpdate struct {
	TemplateID     *string           `json:"templateId,omitempty"`
	GPUType        *string           `json:"gpuType,omitempty"`
	GPUCount       *int              `json:"gpuCount,omitempty"`
	ContainerImage *string           `json:"containerImage,omitempty"`
	EnvVars        map[string]string `json:"envVars,omitempty"`
}

// Empty reports whether the update carries no fields.
func (u EndpointUpdate) Empty() bool {
	return u.TemplateID == nil && u.GPUType == nil && u.GPUCount == nil &&
		u.ContainerImage == nil && u.EnvVars == nil
}

// Clone returns a copy that shares no pointers or maps with u.
func (u *EndpointUpdate) Clone() *EndpointUpdate {
	if u == nil {
		return nil
	}
	c := &EndpointUpdate{EnvVars: CopyEnv(u.EnvVars)}
	if u.TemplateID != nil {
		v := *u.TemplateID
		c.TemplateID = &v
	}
	if u.GPUType != nil {
		v := *u.GPUType
		c.GPUType = &v
	}
	if u.GPUCount != nil {
		v := *u.GPUCount
		c.GPUCount = &v
	}
	if u.ContainerImage != nil {
		v := *u.ContainerImage
		c.ContainerImage = &v
	}
	return c
}

// CopyEnv copies an env var map. nil stays nil.
func CopyEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// AlertThresholds configures HealthEvaluator and AlertManager.
type AlertThresholds struct {
	ErrorRate         float64 `json:"errorRate"`
	ResponseTime      float64 `json:"responseTime"`
	GPUUtilization    float64 `json:"gpuUtilization"`
	MemoryUtilization float64 `json:"memoryUtilization"`
}

func DefaultThresholds() AlertThresholds {
	return AlertThresholds{
		ErrorRate:         5,
		ResponseTime:      5000,
		GPUUtilization:    95,
		MemoryUtilization: 90,
	}
}

func (t AlertThresholds) Validate() error {
	if t.ErrorRate <= 0 || t.ResponseTime <= 0 || t.GPUUtilization <= 0 || t.MemoryUtilization <= 0 {
		return fmt.Errorf("alert thresholds must be positive: %+v", t)
	}
	return nil
}

// MetricsSample is a single entry of the per-endpoint metrics history.
type MetricsSample struct {
	Metrics      EndpointMetrics `json:"metrics"`
	HealthStatus HealthStatus    `json:"healthStatus"`
	Up           bool            `json:"up"`
	RecordedAt   time.Time       `json:"recordedAt"`
}

// DeploymentMonitoring is the monitoring record of one endpoint.
type DeploymentMonitoring struct {
	EndpointID   string          `json:"endpointId"`
	Endpoint     EndpointState   `json:"endpoint"`
	Metrics      EndpointMetrics `json:"metrics"`
	History      []MetricsSample `json:"history"`
	Alerts       []Alert         `json:"alerts"`
	HealthStatus HealthStatus    `json:"healthStatus"`
	Uptime       float64         `json:"uptime"`
	LastUpdated  time.Time       `json:"lastUpdated"`
}

// MonitoringStats aggregates all monitored endpoints.
type MonitoringStats struct {
	TotalEndpoints      int     `json:"totalEndpoints"`
	Healthy             int     `json:"healthy"`
	Warning             int     `json:"warning"`
	Critical            int     `json:"critical"`
	Unknown             int     `json:"unknown"`
	ActiveAlerts        int     `json:"activeAlerts"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	AverageUptime       float64 `json:"averageUptime"`
	EstimatedHourlyCost float64 `json:"estimatedHourlyCost"`
}
