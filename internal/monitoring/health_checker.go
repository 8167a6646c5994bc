package monitoring

import "inference-ops-service/pkg/models"

// EvaluateHealth derives an endpoint's health from one metrics reading.
//
// Critical when any metric is past its hard limit: error rate or GPU/memory
// utilization above threshold, or latency above twice its threshold. Warning when
// any metric is past its soft limit: half the error threshold, the latency
// threshold, or 80% of a utilization threshold. Healthy otherwise.
func EvaluateHealth(m models.EndpointMetrics, t models.AlertThresholds) models.HealthStatus {
	if m.ErrorRate > t.ErrorRate ||
		m.AvgResponseTime > 2*t.ResponseTime ||
		m.GPUUtilization > t.GPUUtilization ||
		m.MemoryUtilization > t.MemoryUtilization {
		return models.HealthCritical
	}

	if m.ErrorRate > 0.5*t.ErrorRate ||
		m.AvgResponseTime > t.ResponseTime ||
		m.GPUUtilization > 0.8*t.GPUUtilization ||
		m.MemoryUtilization > 0.8*t.MemoryUtilization {
		return models.HealthWarning
	}

	return models.HealthHealthy
}
