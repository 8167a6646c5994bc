// Package rollback plans, checks and executes rollbacks between deployment snapshots.
package rollback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"inference-ops-service/pkg/logger"
	"inference-ops-service/pkg/models"

	"github.com/google/uuid"
)

var (
	ErrPlanNotFound    = errors.New("rollback plan not found")
	ErrCrossDeployment = errors.New("snapshots belong to different deployments")
)

// SnapshotSource resolves snapshot ids.
type SnapshotSource interface {
	GetSnapshot(id string) (*models.DeploymentSnapshot, error)
}

// PlanSource resolves plan ids.
type PlanSource interface {
	GetPlan(id string) (*models.RollbackPlan, error)
}

type stepTemplate struct {
	kind         models.StepType
	description  string
	rollbackable bool
	duration     time.Duration
}

var stepTemplates = map[string]stepTemplate{
	models.StepHealthCheck:       {models.StepValidation, "Check current deployment health", false, 30 * time.Second},
	models.StepUpdateTemplate:    {models.StepConfiguration, "Update endpoint template", true, 120 * time.Second},
	models.StepChangeGPU:         {models.StepConfiguration, "Change GPU type", true, 180 * time.Second},
	models.StepUpdateEnvVars:     {models.StepConfiguration, "Update environment variables", true, 60 * time.Second},
	models.StepUpdateContainer:   {models.StepDeployment, "Update container image", true, 300 * time.Second},
	models.StepRestartDeployment: {models.StepDeployment, "Restart deployment and wait for readiness", true, 240 * time.Second},
	models.StepVerifyRollback:    {models.StepVerification, "Verify deployment after rollback", false, 60 * time.Second},
}

// Risk weights per changed field; env var changes carry no weight.
const (
	templateWeight  = 1
	gpuWeight       = 1
	containerWeight = 2
)

var preChecks = []models.PreCheck{
	{Name: "Deployment health", Type: models.PreCheckHealth, Description: "Live deployment reports healthy"},
	{Name: "Error rate", Type: models.PreCheckPerformance, Description: "Live error rate is below 5%"},
	{Name: "GPU capacity", Type: models.PreCheckResources, Description: "Target GPU capacity is available"},
	{Name: "Dependencies", Type: models.PreCheckDependencies, Description: "External dependencies are reachable"},
}

// Planner diffs two snapshots of one deployment into a RollbackPlan.
type Planner struct {
	snapshots SnapshotSource
	now       func() time.Time

	mu    sync.RWMutex
	plans map[string]*models.RollbackPlan
}

func NewPlanner(snapshots SnapshotSource) *Planner {
	return &Planner{
		snapshots: snapshots,
		now:       time.Now,
		plans:     make(map[string]*models.RollbackPlan),
	}
}

// CreateRollbackPlan builds a plan that moves the deployment from the source
// snapshot's configuration to the target's. Nothing is stored on error.
func (p *Planner) CreateRollbackPlan(sourceID, targetID string) (*models.RollbackPlan, error) {
	source, err := p.snapshots.GetSnapshot(sourceID)
	if err != nil {
		return nil, fmt.Errorf("source snapshot: %w", err)
	}
	target, err := p.snapshots.GetSnapshot(targetID)
	if err != nil {
		return nil, fmt.Errorf("target snapshot: %w", err)
	}
	if source.DeploymentID != target.DeploymentID {
		return nil, fmt.Errorf("%w: %s and %s", ErrCrossDeployment, source.DeploymentID, target.DeploymentID)
	}

	steps, risk := planSteps(source, target)

	var total time.Duration
	for _, s := range steps {
		total += s.EstimatedDuration
	}

	plan := &models.RollbackPlan{
		ID:                uuid.NewString(),
		DeploymentID:      target.DeploymentID,
		SourceSnapshotID:  sourceID,
		TargetSnapshotID:  targetID,
		Steps:             steps,
		EstimatedDuration: total,
		RiskLevel:         risk,
		PreChecks:         append([]models.PreCheck(nil), preChecks...),
		CreatedAt:         p.now(),
	}

	p.mu.Lock()
	p.plans[plan.ID] = plan
	p.mu.Unlock()

	logger.Info("Rollback plan created",
		logger.String("plan_id", plan.ID),
		logger.String("deployment_id", plan.DeploymentID),
		logger.Int("steps", len(steps)),
		logger.String("risk", string(risk)))

	return plan.Clone(), nil
}

func (p *Planner) GetPlan(id string) (*models.RollbackPlan, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	plan, ok := p.plans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return plan.Clone(), nil
}

func planSteps(source, target *models.DeploymentSnapshot) ([]models.RollbackStep, models.RiskLevel) {
	from, to := source.Configuration, target.Configuration
	weight := 0

	steps := []models.RollbackStep{newStep(models.StepHealthCheck, nil)}

	if from.TemplateID != to.TemplateID {
		steps = append(steps, newStep(models.StepUpdateTemplate, &models.EndpointUpdate{TemplateID: strPtr(to.TemplateID)}))
		weight += templateWeight
	}
	if from.GPUType != to.GPUType {
		steps = append(steps, newStep(models.StepChangeGPU, &models.EndpointUpdate{
			GPUType:  strPtr(to.GPUType),
			GPUCount: intPtr(to.GPUCount),
		}))
		weight += gpuWeight
	}
	if source.EnvVarsHash != target.EnvVarsHash {
		env := make(map[string]string, len(to.EnvVars))
		for k, v := range to.EnvVars {
			env[k] = v
		}
		steps = append(steps, newStep(models.StepUpdateEnvVars, &models.EndpointUpdate{EnvVars: env}))
	}
	if source.ContainerImageHash != target.ContainerImageHash {
		steps = append(steps, newStep(models.StepUpdateContainer, &models.EndpointUpdate{ContainerImage: strPtr(to.ContainerImage)}))
		weight += containerWeight
	}

	steps = append(steps,
		newStep(models.StepRestartDeployment, nil),
		newStep(models.StepVerifyRollback, nil),
	)

	return steps, riskFor(weight)
}

func riskFor(weight int) models.RiskLevel {
	switch {
	case weight == 0:
		return models.RiskLow
	case weight <= 2:
		return models.RiskMedium
	default:
		return models.RiskHigh
	}
}

func newStep(name string, update *models.EndpointUpdate) models.RollbackStep {
	tpl := stepTemplates[name]
	return models.RollbackStep{
		ID:                uuid.NewString(),
		Name:              name,
		Type:              tpl.kind,
		Description:       tpl.description,
		Rollbackable:      tpl.rollbackable,
		EstimatedDuration: tpl.duration,
		Update:            update,
		Status:            models.StepPending,
	}
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }
