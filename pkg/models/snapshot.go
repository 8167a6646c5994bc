package models

import "time"

// SnapshotConfiguration is the rollback-relevant part of an endpoint configuration.
type SnapshotConfiguration struct {
	TemplateID     string            `json:"templateId"`
	GPUType        string            `json:"gpuType"`
	GPUCount       int               `json:"gpuCount"`
	ContainerImage string            `json:"containerImage"`
	EnvVars        map[string]string `json:"envVars"`
	Network        NetworkSettings   `json:"network"`
}

// PerformanceBaseline is the metrics reading taken at capture time.
type PerformanceBaseline struct {
	AvgResponseTime   float64 `json:"avgResponseTime"`
	ErrorRate         float64 `json:"errorRate"`
	GPUUtilization    float64 `json:"gpuUtilization"`
	MemoryUtilization float64 `json:"memoryUtilization"`
	RequestsPerMinute float64 `json:"requestsPerMinute"`
}

type SnapshotMetadata struct {
	CreatedBy   string   `json:"createdBy"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// DeploymentSnapshot is immutable once created.
type DeploymentSnapshot struct {
	ID                 string                `json:"id"`
	DeploymentID       string                `json:"deploymentId"`
	Timestamp          time.Time             `json:"timestamp"`
	Configuration      SnapshotConfiguration `json:"configuration"`
	ContainerImageHash string                `json:"containerImageHash"`
	EnvVarsHash        string                `json:"envVarsHash"`
	HealthStatus       HealthStatus          `json:"healthStatus"`
	ProviderStatus     string                `json:"providerStatus"`
	WorkersReady       int                   `json:"workersReady"`
	Performance        PerformanceBaseline   `json:"performance"`
	Metadata           SnapshotMetadata      `json:"metadata"`
}

// Clone returns a deep copy, so callers cannot reach the stored env vars or tags.
func (s *DeploymentSnapshot) Clone() *DeploymentSnapshot {
	c := *s
	c.Configuration.EnvVars = CopyEnv(s.Configuration.EnvVars)
	if s.Metadata.Tags != nil {
		c.Metadata.Tags = append([]string(nil), s.Metadata.Tags...)
	}
	return &c
}
