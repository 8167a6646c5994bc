package rollback

import (
	"fmt"
	"testing"
	"time"

	"inference-ops-service/internal/snapshot"
	"inference-ops-service/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type snapshotSet map[string]*models.DeploymentSnapshot

func (s snapshotSet) GetSnapshot(id string) (*models.DeploymentSnapshot, error) {
	snap, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", snapshot.ErrSnapshotNotFound, id)
	}
	return snap.Clone(), nil
}

func baseConfig() models.SnapshotConfiguration {
	return models.SnapshotConfiguration{
		TemplateID:     "tpl-a",
		GPUType:        "A100",
		GPUCount:       1,
		ContainerImage: "registry/model:v1",
		EnvVars:        map[string]string{"MODEL": "llama"},
	}
}

func makeSnapshot(t *testing.T, id, deploymentID string, cfg models.SnapshotConfiguration) *models.DeploymentSnapshot {
	t.Helper()
	envHash, err := snapshot.HashEnvVars(cfg.EnvVars)
	require.NoError(t, err)
	return &models.DeploymentSnapshot{
		ID:                 id,
		DeploymentID:       deploymentID,
		Timestamp:          time.Now(),
		Configuration:      cfg,
		ContainerImageHash: snapshot.HashImage(cfg.ContainerImage),
		EnvVarsHash:        envHash,
	}
}

func stepNames(steps []models.RollbackStep) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

func TestPlanForIdenticalSnapshots(t *testing.T) {
	set := snapshotSet{
		"s1": makeSnapshot(t, "s1", "dep-1", baseConfig()),
		"s2": makeSnapshot(t, "s2", "dep-1", baseConfig()),
	}
	plan, err := NewPlanner(set).CreateRollbackPlan("s1", "s2")
	require.NoError(t, err)

	assert.Equal(t, []string{models.StepHealthCheck, models.StepRestartDeployment, models.StepVerifyRollback}, stepNames(plan.Steps))
	assert.Equal(t, models.RiskLow, plan.RiskLevel)
	assert.Equal(t, 330*time.Second, plan.EstimatedDuration)
	assert.Len(t, plan.PreChecks, 4)
	assert.False(t, plan.Steps[0].Rollbackable)
	assert.False(t, plan.Steps[2].Rollbackable)
}

func TestPlanForGPUChange(t *testing.T) {
	target := baseConfig()
	target.GPUType = "H100"
	target.GPUCount = 2
	set := snapshotSet{
		"s1": makeSnapshot(t, "s1", "dep-1", baseConfig()),
		"s2": makeSnapshot(t, "s2", "dep-1", target),
	}
	plan, err := NewPlanner(set).CreateRollbackPlan("s1", "s2")
	require.NoError(t, err)

	assert.Equal(t, []string{models.StepHealthCheck, models.StepChangeGPU, models.StepRestartDeployment, models.StepVerifyRollback}, stepNames(plan.Steps))
	assert.Equal(t, models.RiskMedium, plan.RiskLevel)
	require.NotNil(t, plan.Steps[1].Update)
	assert.Equal(t, "H100", *plan.Steps[1].Update.GPUType)
	assert.Equal(t, 2, *plan.Steps[1].Update.GPUCount)
}

func TestPlanStepOrderAndRisk(t *testing.T) {
	tests := []struct {
		name   string
		change func(*models.SnapshotConfiguration)
		steps  []string
		risk   models.RiskLevel
	}{
		{
			name:   "env vars only",
			change: func(c *models.SnapshotConfiguration) { c.EnvVars = map[string]string{"MODEL": "mistral"} },
			steps:  []string{models.StepHealthCheck, models.StepUpdateEnvVars, models.StepRestartDeployment, models.StepVerifyRollback},
			risk:   models.RiskLow,
		},
		{
			name:   "container only",
			change: func(c *models.SnapshotConfiguration) { c.ContainerImage = "registry/model:v0" },
			steps:  []string{models.StepHealthCheck, models.StepUpdateContainer, models.StepRestartDeployment, models.StepVerifyRollback},
			risk:   models.RiskMedium,
		},
		{
			name: "template and container",
			change: func(c *models.SnapshotConfiguration) {
				c.TemplateID = "tpl-b"
				c.ContainerImage = "registry/model:v0"
			},
			steps: []string{models.StepHealthCheck, models.StepUpdateTemplate, models.StepUpdateContainer, models.StepRestartDeployment, models.StepVerifyRollback},
			risk:  models.RiskHigh,
		},
		{
			name: "everything",
			change: func(c *models.SnapshotConfiguration) {
				c.TemplateID = "tpl-b"
				c.GPUType = "L4"
				c.EnvVars = nil
				c.ContainerImage = "registry/model:v0"
			},
			steps: []string{
				models.StepHealthCheck, models.StepUpdateTemplate, models.StepChangeGPU, models.StepUpdateEnvVars,
				models.StepUpdateContainer, models.StepRestartDeployment, models.StepVerifyRollback,
			},
			risk: models.RiskHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := baseConfig()
			tt.change(&target)
			set := snapshotSet{
				"s1": makeSnapshot(t, "s1", "dep-1", baseConfig()),
				"s2": makeSnapshot(t, "s2", "dep-1", target),
			}
			plan, err := NewPlanner(set).CreateRollbackPlan("s1", "s2")
			require.NoError(t, err)
			assert.Equal(t, tt.steps, stepNames(plan.Steps))
			assert.Equal(t, tt.risk, plan.RiskLevel)

			var total time.Duration
			for _, s := range plan.Steps {
				total += s.EstimatedDuration
				assert.Equal(t, models.StepPending, s.Status)
			}
			assert.Equal(t, total, plan.EstimatedDuration)
		})
	}
}

func TestPlanValidation(t *testing.T) {
	set := snapshotSet{
		"s1": makeSnapshot(t, "s1", "dep-1", baseConfig()),
		"s2": makeSnapshot(t, "s2", "dep-2", baseConfig()),
	}
	planner := NewPlanner(set)

	_, err := planner.CreateRollbackPlan("s1", "s2")
	assert.ErrorIs(t, err, ErrCrossDeployment)

	_, err = planner.CreateRollbackPlan("s1", "missing")
	assert.ErrorIs(t, err, snapshot.ErrSnapshotNotFound)

	assert.Empty(t, planner.plans)
}

func TestGetPlanReturnsCopy(t *testing.T) {
	set := snapshotSet{
		"s1": makeSnapshot(t, "s1", "dep-1", baseConfig()),
		"s2": makeSnapshot(t, "s2", "dep-1", baseConfig()),
	}
	planner := NewPlanner(set)
	plan, err := planner.CreateRollbackPlan("s1", "s2")
	require.NoError(t, err)

	plan.Steps[0].Status = models.StepFailed
	stored, err := planner.GetPlan(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepPending, stored.Steps[0].Status)

	_, err = planner.GetPlan("nope")
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestGetPlanDeepCopiesUpdates(t *testing.T) {
	target := baseConfig()
	target.EnvVars = map[string]string{"MODEL": "mistral"}
	set := snapshotSet{
		"s1": makeSnapshot(t, "s1", "dep-1", baseConfig()),
		"s2": makeSnapshot(t, "s2", "dep-1", target),
	}
	planner := NewPlanner(set)
	plan, err := planner.CreateRollbackPlan("s1", "s2")
	require.NoError(t, err)
	require.Equal(t, []string{models.StepHealthCheck, models.StepUpdateEnvVars, models.StepRestartDeployment, models.StepVerifyRollback}, stepNames(plan.Steps))

	plan.Steps[1].Update.EnvVars["MODEL"] = "tampered"
	plan.Steps[1].Update.EnvVars["EXTRA"] = "1"

	stored, err := planner.GetPlan(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"MODEL": "mistral"}, stored.Steps[1].Update.EnvVars)
}
