package models

import "time"

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type StepType string

const (
	StepValidation    StepType = "validation"
	StepConfiguration StepType = "configuration"
	StepDeployment    StepType = "deployment"
	StepVerification  StepType = "verification"
)

// Step names; each one is bound to a concrete action by the executor.
const (
	StepHealthCheck       = "health_check"
	StepUpdateTemplate    = "update_template"
	StepChangeGPU         = "change_gpu"
	StepUpdateEnvVars     = "update_env_vars"
	StepUpdateContainer   = "update_container"
	StepRestartDeployment = "restart_deployment"
	StepVerifyRollback    = "verify_rollback"
)

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

type StepResult struct {
	Success  bool          `json:"success"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

type RollbackStep struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Type              StepType        `json:"type"`
	Description       string          `json:"description"`
	Rollbackable      bool            `json:"rollbackable"`
	EstimatedDuration time.Duration   `json:"estimatedDuration"`
	Update            *EndpointUpdate `json:"update,omitempty"`
	Status            StepStatus      `json:"status"`
	Result            *StepResult     `json:"result,omitempty"`
}

// Clone deep-copies the step, including its update and result.
func (s RollbackStep) Clone() RollbackStep {
	s.Update = s.Update.Clone()
	if s.Result != nil {
		r := *s.Result
		s.Result = &r
	}
	return s
}

type PreCheckType string

const (
	PreCheckHealth       PreCheckType = "health"
	PreCheckPerformance  PreCheckType = "performance"
	PreCheckResources    PreCheckType = "resources"
	PreCheckDependencies PreCheckType = "dependencies"
)

type PreCheck struct {
	Name        string       `json:"name"`
	Type        PreCheckType `json:"type"`
	Description string       `json:"description"`
}

type PreCheckStatus string

const (
	PreCheckPassed  PreCheckStatus = "passed"
	PreCheckWarning PreCheckStatus = "warning"
	PreCheckFailed  PreCheckStatus = "failed"
)

type PreCheckResult struct {
	Name      string         `json:"name"`
	Type      PreCheckType   `json:"type"`
	Status    PreCheckStatus `json:"status"`
	Message   string         `json:"message"`
	CheckedAt time.Time      `json:"checkedAt"`
}

// RollbackPlan is immutable once created.
type RollbackPlan struct {
	ID                string         `json:"id"`
	DeploymentID      string         `json:"deploymentId"`
	SourceSnapshotID  string         `json:"sourceSnapshotId"`
	TargetSnapshotID  string         `json:"targetSnapshotId"`
	Steps             []RollbackStep `json:"steps"`
	EstimatedDuration time.Duration  `json:"estimatedDuration"`
	RiskLevel         RiskLevel      `json:"riskLevel"`
	PreChecks         []PreCheck     `json:"preChecks"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// Clone returns a deep copy of the plan.
func (p *RollbackPlan) Clone() *RollbackPlan {
	c := *p
	c.Steps = cloneSteps(p.Steps)
	c.PreChecks = append([]PreCheck(nil), p.PreChecks...)
	return &c
}

func cloneSteps(steps []RollbackStep) []RollbackStep {
	out := make([]RollbackStep, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}

type ExecutionStatus string

const (
	ExecutionPreparing ExecutionStatus = "preparing"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

type ExecutionLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	StepID    string    `json:"stepId,omitempty"`
	Message   string    `json:"message"`
}

type RollbackExecution struct {
	ID            string              `json:"id"`
	PlanID        string              `json:"planId"`
	DeploymentID  string              `json:"deploymentId"`
	Status        ExecutionStatus     `json:"status"`
	StartTime     time.Time           `json:"startTime"`
	EndTime       *time.Time          `json:"endTime,omitempty"`
	CurrentStepID string              `json:"currentStepId,omitempty"`
	Progress      float64             `json:"progress"`
	Steps         []RollbackStep      `json:"steps"`
	Log           []ExecutionLogEntry `json:"log"`
	Error         string              `json:"error,omitempty"`
}

// Clone returns a deep copy safe to hand out while the execution is still running.
func (e *RollbackExecution) Clone() *RollbackExecution {
	c := *e
	c.Steps = cloneSteps(e.Steps)
	c.Log = append([]ExecutionLogEntry(nil), e.Log...)
	if e.EndTime != nil {
		t := *e.EndTime
		c.EndTime = &t
	}
	return &c
}
