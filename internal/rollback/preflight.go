package rollback

import (
	"context"
	"fmt"
	"time"

	"inference-ops-service/internal/monitoring"
	"inference-ops-service/pkg/logger"
	"inference-ops-service/pkg/models"
	"inference-ops-service/pkg/provider"
)

// maxPreflightErrorRate is the live error rate, in percent, the performance check tolerates.
const maxPreflightErrorRate = 5.0

// PreflightChecker runs a plan's pre-checks against the live deployment.
// Results are advisory; the caller decides whether to proceed.
type PreflightChecker struct {
	gateway    provider.Gateway
	plans      PlanSource
	thresholds models.AlertThresholds
	now        func() time.Time
}

func NewPreflightChecker(gateway provider.Gateway, plans PlanSource, thresholds models.AlertThresholds) *PreflightChecker {
	if thresholds == (models.AlertThresholds{}) {
		thresholds = models.DefaultThresholds()
	}
	return &PreflightChecker{gateway: gateway, plans: plans, thresholds: thresholds, now: time.Now}
}

func (c *PreflightChecker) ExecutePreRollbackChecks(ctx context.Context, planID string) ([]models.PreCheckResult, error) {
	plan, err := c.plans.GetPlan(planID)
	if err != nil {
		return nil, err
	}

	metrics, err := c.gateway.GetEndpointMetrics(ctx, plan.DeploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch live metrics for %s: %w", plan.DeploymentID, err)
	}

	results := make([]models.PreCheckResult, 0, len(plan.PreChecks))
	for _, check := range plan.PreChecks {
		status, message := c.run(check, *metrics)
		results = append(results, models.PreCheckResult{
			Name:      check.Name,
			Type:      check.Type,
			Status:    status,
			Message:   message,
			CheckedAt: c.now(),
		})
	}

	logger.Info("Pre-rollback checks executed",
		logger.String("plan_id", planID),
		logger.String("deployment_id", plan.DeploymentID),
		logger.Int("checks", len(results)))

	return results, nil
}

func (c *PreflightChecker) run(check models.PreCheck, metrics models.EndpointMetrics) (models.PreCheckStatus, string) {
	switch check.Type {
	case models.PreCheckHealth:
		health := monitoring.EvaluateHealth(metrics, c.thresholds)
		if health != models.HealthHealthy {
			return models.PreCheckWarning, fmt.Sprintf("deployment health is %s", health)
		}
		return models.PreCheckPassed, "deployment is healthy"
	case models.PreCheckPerformance:
		if metrics.ErrorRate >= maxPreflightErrorRate {
			return models.PreCheckFailed, fmt.Sprintf("error rate %.2f%% is not below %.0f%%", metrics.ErrorRate, maxPreflightErrorRate)
		}
		return models.PreCheckPassed, fmt.Sprintf("error rate %.2f%%", metrics.ErrorRate)
	case models.PreCheckResources, models.PreCheckDependencies:
		// No capacity or dependency probe exists yet; these always pass.
		return models.PreCheckPassed, "not verified"
	default:
		return models.PreCheckWarning, fmt.Sprintf("unknown check type %s", check.Type)
	}
}
