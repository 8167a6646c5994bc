package monitoring

import (
	"testing"

	"inference-ops-service/pkg/models"

	"github.com/stretchr/testify/assert"
)

var testThresholds = models.AlertThresholds{
	ErrorRate:         5,
	ResponseTime:      1000,
	GPUUtilization:    90,
	MemoryUtilization: 80,
}

func TestEvaluateHealth(t *testing.T) {
	tests := []struct {
		name    string
		metrics models.EndpointMetrics
		want    models.HealthStatus
	}{
		{"all quiet", models.EndpointMetrics{}, models.HealthHealthy},
		{"at soft limits", models.EndpointMetrics{ErrorRate: 2.5, AvgResponseTime: 1000, GPUUtilization: 72, MemoryUtilization: 64}, models.HealthHealthy},
		{"error rate above half", models.EndpointMetrics{ErrorRate: 3}, models.HealthWarning},
		{"latency above threshold", models.EndpointMetrics{AvgResponseTime: 1500}, models.HealthWarning},
		{"gpu above 80 percent of threshold", models.EndpointMetrics{GPUUtilization: 73}, models.HealthWarning},
		{"memory above 80 percent of threshold", models.EndpointMetrics{MemoryUtilization: 65}, models.HealthWarning},
		{"error rate above threshold", models.EndpointMetrics{ErrorRate: 6}, models.HealthCritical},
		{"latency at twice threshold", models.EndpointMetrics{AvgResponseTime: 2000}, models.HealthWarning},
		{"latency above twice threshold", models.EndpointMetrics{AvgResponseTime: 2001}, models.HealthCritical},
		{"gpu above threshold", models.EndpointMetrics{GPUUtilization: 91}, models.HealthCritical},
		{"memory above threshold", models.EndpointMetrics{MemoryUtilization: 81}, models.HealthCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateHealth(tt.metrics, testThresholds))
		})
	}
}

func TestEvaluateHealthHealthyWithinSoftLimits(t *testing.T) {
	for i := 0; i <= 10; i++ {
		f := float64(i) / 10
		m := models.EndpointMetrics{
			ErrorRate:         f * 0.5 * testThresholds.ErrorRate,
			AvgResponseTime:   f * testThresholds.ResponseTime,
			GPUUtilization:    f * 0.8 * testThresholds.GPUUtilization,
			MemoryUtilization: f * 0.8 * testThresholds.MemoryUtilization,
		}
		assert.Equal(t, models.HealthHealthy, EvaluateHealth(m, testThresholds), "fraction %.1f", f)
	}
}
