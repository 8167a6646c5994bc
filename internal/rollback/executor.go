package rollback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"inference-ops-service/pkg/events"
	"inference-ops-service/pkg/logger"
	"inference-ops-service/pkg/models"
	"inference-ops-service/pkg/provider"

	"github.com/google/uuid"
)

var (
	ErrExecutionNotFound   = errors.New("rollback execution not found")
	ErrExecutionNotRunning = errors.New("rollback execution is not running")
	ErrRollbackCancelled   = errors.New("rollback cancelled")
	ErrReadinessTimeout    = errors.New("deployment did not become ready within timeout")
	ErrVerificationFailed  = errors.New("rollback verification failed")
	ErrExecutorClosed      = errors.New("rollback executor is shut down")
)

// maxVerifiedErrorRate is the highest error rate, in percent, verify_rollback accepts.
const maxVerifiedErrorRate = 10.0

// ExecutionRecorder persists executions once they reach a terminal state.
type ExecutionRecorder interface {
	RecordExecution(ctx context.Context, exec *models.RollbackExecution) error
}

type ExecutorOptions struct {
	ReadyAttempts int
	ReadyInterval time.Duration
	Recorder      ExecutionRecorder
	Clock         func() time.Time
}

// StepEvent is the payload of the rollbackStep* events.
type StepEvent struct {
	ExecutionID string              `json:"executionId"`
	Step        models.RollbackStep `json:"step"`
	Progress    float64             `json:"progress"`
}

type execution struct {
	state models.RollbackExecution
	done  chan struct{}
}

// Executor runs rollback plans one step at a time. Each execution is driven by
// the goroutine that started it; other callers only read copies or cancel.
// Every run is bound to the executor's base context, which Shutdown cancels.
type Executor struct {
	gateway provider.Gateway
	plans   PlanSource
	events  events.Publisher
	opts    ExecutorOptions

	base       context.Context
	stopAll    context.CancelFunc
	mu         sync.Mutex
	closed     bool
	executions map[string]*execution
}

func NewExecutor(gateway provider.Gateway, plans PlanSource, publisher events.Publisher, opts ExecutorOptions) *Executor {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if opts.ReadyAttempts <= 0 {
		opts.ReadyAttempts = 30
	}
	if opts.ReadyInterval <= 0 {
		opts.ReadyInterval = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	base, stopAll := context.WithCancel(context.Background())
	return &Executor{
		gateway:    gateway,
		plans:      plans,
		events:     publisher,
		opts:       opts,
		base:       base,
		stopAll:    stopAll,
		executions: make(map[string]*execution),
	}
}

// ExecuteRollback runs the plan to completion and returns the final execution.
// The execution is returned alongside any step error.
func (e *Executor) ExecuteRollback(ctx context.Context, planID string) (*models.RollbackExecution, error) {
	x, plan, err := e.prepare(planID)
	if err != nil {
		return nil, err
	}
	runCtx, release := e.runContext(ctx)
	defer release()
	err = e.run(runCtx, x, plan)
	return e.copyOf(x), err
}

// StartRollback creates the execution and runs it in the background.
func (e *Executor) StartRollback(ctx context.Context, planID string) (*models.RollbackExecution, error) {
	x, plan, err := e.prepare(planID)
	if err != nil {
		return nil, err
	}
	started := e.copyOf(x)
	runCtx, release := e.runContext(ctx)
	go func() {
		defer release()
		if err := e.run(runCtx, x, plan); err != nil {
			logger.Warn("Rollback did not complete",
				logger.String("execution_id", started.ID),
				logger.Err(err))
		}
	}()
	return started, nil
}

// Wait blocks until the execution reaches a terminal state.
func (e *Executor) Wait(ctx context.Context, executionID string) (*models.RollbackExecution, error) {
	e.mu.Lock()
	x, ok := e.executions[executionID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}

	select {
	case <-x.done:
		return e.copyOf(x), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CancelRollback stops a running execution before its next step. Steps already
// applied are not undone.
func (e *Executor) CancelRollback(executionID string) error {
	e.mu.Lock()
	x, ok := e.executions[executionID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	if x.state.Status != models.ExecutionRunning {
		status := x.state.Status
		e.mu.Unlock()
		return fmt.Errorf("%w: status is %s", ErrExecutionNotRunning, status)
	}

	pending := e.cancelLocked(x, "Rollback cancelled")
	e.mu.Unlock()

	logger.Info("Rollback cancelled", logger.String("execution_id", executionID))
	e.publish(pending)
	return nil
}

// Shutdown cancels every unfinished execution, interrupts the steps in flight
// and waits for their runs to record the outcome. No new rollback can start
// afterwards.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	var pending []events.Event
	var running []*execution
	for _, x := range e.executions {
		if x.state.Status.Terminal() {
			continue
		}
		pending = append(pending, e.cancelLocked(x, "Rollback cancelled: service shutting down")...)
		running = append(running, x)
	}
	e.mu.Unlock()

	e.publish(pending)
	e.stopAll()

	logger.Info("Waiting for rollbacks to stop", logger.Int("count", len(running)))
	for _, x := range running {
		select {
		case <-x.done:
		case <-ctx.Done():
			return fmt.Errorf("rollbacks still running at shutdown: %w", ctx.Err())
		}
	}
	return nil
}

// cancelLocked moves x to cancelled. Callers hold e.mu.
func (e *Executor) cancelLocked(x *execution, message string) []events.Event {
	x.state.Status = models.ExecutionCancelled
	end := e.opts.Clock()
	x.state.EndTime = &end
	pending := []events.Event{e.logEntry(x, models.LogWarn, x.state.CurrentStepID, message)}
	return append(pending, events.Event{Type: events.RollbackCancelled, ResourceID: x.state.ID, Payload: *x.state.Clone()})
}

// runContext derives the context of one run: it ends with ctx or when the
// executor shuts down.
func (e *Executor) runContext(ctx context.Context) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.base, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (e *Executor) GetRollbackExecution(executionID string) (*models.RollbackExecution, error) {
	e.mu.Lock()
	x, ok := e.executions[executionID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	return e.copyOf(x), nil
}

// ListExecutions returns the executions of a deployment, newest first. An empty
// deploymentID lists all of them.
func (e *Executor) ListExecutions(deploymentID string) []models.RollbackExecution {
	e.mu.Lock()
	out := make([]models.RollbackExecution, 0, len(e.executions))
	for _, x := range e.executions {
		if deploymentID == "" || x.state.DeploymentID == deploymentID {
			out = append(out, *x.state.Clone())
		}
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out
}

func (e *Executor) prepare(planID string) (*execution, *models.RollbackPlan, error) {
	plan, err := e.plans.GetPlan(planID)
	if err != nil {
		return nil, nil, err
	}

	steps := make([]models.RollbackStep, len(plan.Steps))
	for i, s := range plan.Steps {
		s = s.Clone()
		s.Status = models.StepPending
		s.Result = nil
		steps[i] = s
	}

	x := &execution{
		state: models.RollbackExecution{
			ID:           uuid.NewString(),
			PlanID:       plan.ID,
			DeploymentID: plan.DeploymentID,
			Status:       models.ExecutionPreparing,
			StartTime:    e.opts.Clock(),
			Steps:        steps,
		},
		done: make(chan struct{}),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, nil, ErrExecutorClosed
	}
	e.executions[x.state.ID] = x
	return x, plan, nil
}

func (e *Executor) run(ctx context.Context, x *execution, plan *models.RollbackPlan) error {
	defer close(x.done)

	id := x.state.ID
	total := len(x.state.Steps)

	e.mu.Lock()
	if x.state.Status == models.ExecutionCancelled {
		e.mu.Unlock()
		e.record(x)
		return ErrRollbackCancelled
	}
	x.state.Status = models.ExecutionRunning
	pending := []events.Event{{Type: events.RollbackStarted, ResourceID: id, Payload: *x.state.Clone()}}
	pending = append(pending, e.logEntry(x, models.LogInfo, "",
		fmt.Sprintf("Starting rollback of %s to snapshot %s", plan.DeploymentID, plan.TargetSnapshotID)))
	e.mu.Unlock()
	e.publish(pending)

	logger.Info("Rollback started",
		logger.String("execution_id", id),
		logger.String("plan_id", plan.ID),
		logger.String("deployment_id", plan.DeploymentID))

	for i := 0; i < total; i++ {
		e.mu.Lock()
		if x.state.Status == models.ExecutionCancelled {
			e.mu.Unlock()
			e.record(x)
			return ErrRollbackCancelled
		}
		step := &x.state.Steps[i]
		step.Status = models.StepRunning
		x.state.CurrentStepID = step.ID
		pending = []events.Event{
			{Type: events.RollbackStepStarted, ResourceID: id, Payload: StepEvent{ExecutionID: id, Step: *step, Progress: x.state.Progress}},
			e.logEntry(x, models.LogInfo, step.ID, fmt.Sprintf("Executing step: %s", step.Description)),
		}
		action := *step
		e.mu.Unlock()
		e.publish(pending)

		logger.Info("Rollback step started",
			logger.String("execution_id", id),
			logger.String("step", action.Name))

		started := e.opts.Clock()
		output, stepErr := e.runStep(ctx, plan.DeploymentID, action)
		elapsed := e.opts.Clock().Sub(started)

		e.mu.Lock()
		step = &x.state.Steps[i]
		if stepErr != nil {
			step.Status = models.StepFailed
			step.Result = &models.StepResult{Success: false, Output: output, Error: stepErr.Error(), Duration: elapsed}
			pending = []events.Event{
				{Type: events.RollbackStepFailed, ResourceID: id, Payload: StepEvent{ExecutionID: id, Step: *step, Progress: x.state.Progress}},
				e.logEntry(x, models.LogError, step.ID, fmt.Sprintf("Step %s failed: %v", step.Name, stepErr)),
			}
			cancelled := x.state.Status == models.ExecutionCancelled
			if !cancelled {
				x.state.Status = models.ExecutionFailed
				x.state.Error = stepErr.Error()
				end := e.opts.Clock()
				x.state.EndTime = &end
				pending = append(pending, events.Event{Type: events.RollbackFailed, ResourceID: id, Payload: *x.state.Clone()})
			}
			e.mu.Unlock()
			e.publish(pending)

			logger.Error("Rollback step failed",
				logger.String("execution_id", id),
				logger.String("step", action.Name),
				logger.Err(stepErr))
			e.record(x)
			if cancelled {
				return ErrRollbackCancelled
			}
			return fmt.Errorf("step %s failed: %w", action.Name, stepErr)
		}

		step.Status = models.StepCompleted
		step.Result = &models.StepResult{Success: true, Output: output, Duration: elapsed}
		x.state.Progress = float64(i+1) / float64(total) * 100
		pending = []events.Event{
			{Type: events.RollbackStepCompleted, ResourceID: id, Payload: StepEvent{ExecutionID: id, Step: *step, Progress: x.state.Progress}},
			e.logEntry(x, models.LogInfo, step.ID, fmt.Sprintf("Step %s completed in %s", step.Name, elapsed)),
		}
		e.mu.Unlock()
		e.publish(pending)

		logger.Info("Rollback step completed",
			logger.String("execution_id", id),
			logger.String("step", action.Name),
			logger.Duration("duration", elapsed))
	}

	e.mu.Lock()
	if x.state.Status == models.ExecutionCancelled {
		e.mu.Unlock()
		e.record(x)
		return ErrRollbackCancelled
	}
	x.state.Status = models.ExecutionCompleted
	x.state.CurrentStepID = ""
	end := e.opts.Clock()
	x.state.EndTime = &end
	pending = []events.Event{e.logEntry(x, models.LogInfo, "", "Rollback completed successfully")}
	pending = append(pending, events.Event{Type: events.RollbackCompleted, ResourceID: id, Payload: *x.state.Clone()})
	e.mu.Unlock()
	e.publish(pending)

	logger.Info("Rollback completed", logger.String("execution_id", id))
	e.record(x)
	return nil
}

func (e *Executor) runStep(ctx context.Context, deploymentID string, step models.RollbackStep) (string, error) {
	switch step.Name {
	case models.StepHealthCheck:
		health, err := e.gateway.GetEndpointHealth(ctx, deploymentID)
		if err != nil {
			return "", fmt.Errorf("failed to read health: %w", err)
		}
		return fmt.Sprintf("status %s, %d workers ready", health.Status, health.WorkersReady), nil

	case models.StepUpdateTemplate, models.StepChangeGPU, models.StepUpdateEnvVars, models.StepUpdateContainer:
		if step.Update == nil || step.Update.Empty() {
			return "nothing to apply", nil
		}
		if err := e.gateway.UpdateEndpoint(ctx, deploymentID, *step.Update); err != nil {
			return "", fmt.Errorf("failed to update endpoint: %w", err)
		}
		return "configuration applied", nil

	case models.StepRestartDeployment:
		if err := e.gateway.RestartEndpoint(ctx, deploymentID); err != nil {
			return "", fmt.Errorf("failed to restart endpoint: %w", err)
		}
		return e.waitForReady(ctx, deploymentID)

	case models.StepVerifyRollback:
		return e.verify(ctx, deploymentID)

	default:
		return "", fmt.Errorf("unknown step %q", step.Name)
	}
}

// waitForReady polls health until the deployment is running with a ready
// worker, giving up after the configured number of attempts.
func (e *Executor) waitForReady(ctx context.Context, deploymentID string) (string, error) {
	for attempt := 1; attempt <= e.opts.ReadyAttempts; attempt++ {
		health, err := e.gateway.GetEndpointHealth(ctx, deploymentID)
		if err == nil && health.Ready() {
			return fmt.Sprintf("ready after %d attempt(s)", attempt), nil
		}
		if attempt == e.opts.ReadyAttempts {
			break
		}

		timer := time.NewTimer(e.opts.ReadyInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", ErrReadinessTimeout
}

func (e *Executor) verify(ctx context.Context, deploymentID string) (string, error) {
	health, err := e.gateway.GetEndpointHealth(ctx, deploymentID)
	if err != nil {
		return "", fmt.Errorf("failed to read health: %w", err)
	}
	if health.Status != models.EndpointRunning {
		return "", fmt.Errorf("%w: deployment status is %s", ErrVerificationFailed, health.Status)
	}

	metrics, err := e.gateway.GetEndpointMetrics(ctx, deploymentID)
	if err != nil {
		return "", fmt.Errorf("failed to read metrics: %w", err)
	}
	if metrics.ErrorRate > maxVerifiedErrorRate {
		return "", fmt.Errorf("%w: error rate %.2f%% exceeds %.0f%%", ErrVerificationFailed, metrics.ErrorRate, maxVerifiedErrorRate)
	}
	return fmt.Sprintf("deployment running, error rate %.2f%%", metrics.ErrorRate), nil
}

// logEntry appends to the execution log and returns the matching event.
// Callers hold e.mu.
func (e *Executor) logEntry(x *execution, level models.LogLevel, stepID, message string) events.Event {
	entry := models.ExecutionLogEntry{Timestamp: e.opts.Clock(), Level: level, StepID: stepID, Message: message}
	x.state.Log = append(x.state.Log, entry)
	return events.Event{Type: events.RollbackLog, ResourceID: x.state.ID, Payload: entry}
}

func (e *Executor) publish(pending []events.Event) {
	for _, evt := range pending {
		e.events.Publish(evt)
	}
}

func (e *Executor) copyOf(x *execution) *models.RollbackExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return x.state.Clone()
}

func (e *Executor) record(x *execution) {
	if e.opts.Recorder == nil {
		return
	}
	snapshot := e.copyOf(x)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.opts.Recorder.RecordExecution(ctx, snapshot); err != nil {
		logger.Error("Failed to record rollback execution",
			logger.String("execution_id", snapshot.ID),
			logger.Err(err))
	}
}
