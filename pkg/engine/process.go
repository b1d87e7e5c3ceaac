package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vincentsider/bolt.new-sub002/pkg/errorhandler"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/otelhelper"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
	"github.com/vincentsider/bolt.new-sub002/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
)

// process advances one execution frontier by frontier until it leaves running
// or its run is halted. At most one loop per execution runs at a time.
func (e *Engine) process(executionID string, r *run) {
	defer e.wg.Done()

	unlock := e.loops.Lock(executionID)
	defer unlock()

	ctx, span := otelhelper.StartSpan(e.baseCtx, e.tracer, "engine.execution",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.WorkflowIDKey, r.definition.ID),
		attribute.String(otelhelper.TenantIDKey, r.definition.TenantID),
	)
	defer span.End()

	logger := e.logger.With("execution_id", executionID, "workflow_id", r.definition.ID)

	for !r.stopped() {
		execution, err := e.store.ExecutionRepository().GetExecution(ctx, executionID)
		if err != nil {
			otelhelper.SetError(span, err)
			e.fail(ctx, r, executionID, models.NewWorkflowError(models.ErrorTypeSystem,
				fmt.Sprintf("failed to load execution: %v", err), nil))

			return
		}

		if execution.Status != models.ExecutionStatusRunning {
			return
		}

		if len(execution.CurrentSteps) == 0 {
			e.complete(ctx, r, executionID)

			return
		}

		logger.DebugContext(ctx, "Processing frontier", "frontier", execution.CurrentSteps)

		// runStep records its own failures on the execution
		var wg sync.WaitGroup

		for _, stepID := range execution.CurrentSteps {
			wg.Add(1)

			go func() {
				defer wg.Done()

				e.runStep(ctx, r, executionID, stepID)
			}()
		}

		wg.Wait()

		if ctx.Err() != nil {
			return
		}
	}
}

// runStep drives one step through its attempts until it resolves, the
// execution leaves running, or the run is halted.
func (e *Engine) runStep(ctx context.Context, r *run, executionID, stepID string) {
	logger := e.logger.With("execution_id", executionID, "step_id", stepID)

	step, ok := r.definition.StepByID(stepID)
	if !ok {
		e.fail(ctx, r, executionID, models.NewWorkflowError(models.ErrorTypeSystem,
			fmt.Sprintf("step %q is not part of workflow %s", stepID, r.definition.ID), nil))

		return
	}

	executor, err := e.registry.Executor(step.Type)
	if err != nil {
		werr := models.NewWorkflowError(models.ErrorTypeSystem, err.Error(), map[string]any{"step_id": step.ID})

		_, recorded, _ := e.recordStep(ctx, r, executionID, step, func(s *models.StepExecution) {
			e.finishStep(s, models.StepStatusFailed, nil, werr)
		}, nil)
		if recorded {
			e.fail(ctx, r, executionID, werr)
		}

		return
	}

	// a step resumed after a pause keeps counting its earlier attempts
	previous, err := e.store.ExecutionRepository().GetStep(ctx, executionID, stepID)
	if err != nil && !persistence.IsStepExecutionNotFound(err) {
		e.fail(ctx, r, executionID, models.NewWorkflowError(models.ErrorTypeSystem,
			fmt.Sprintf("failed to load step %s: %v", stepID, err), nil))

		return
	}

	attempt := 1
	if previous != nil && previous.Status == models.StepStatusPending {
		attempt = previous.RetryAttempt() + 1
	}

	for {
		if r.stopped() {
			return
		}

		result, ran := e.attempt(ctx, r, executionID, step, executor, attempt)
		if !ran {
			return
		}

		if ctx.Err() != nil {
			// engine shutdown; the execution stays running in the store
			return
		}

		if result.Success {
			e.resolve(ctx, r, executionID, step, models.StepStatusCompleted, result.Output, nil,
				&models.ResolvedStep{StepID: step.ID, Outcome: models.StepOutcomeCompleted})

			return
		}

		werr := errorhandler.Classify(result.Error)
		if werr == nil {
			werr = models.NewWorkflowError(models.ErrorTypeSystem, "step failed without an error", nil)
		}

		action := e.handler.ResolveStepFailure(werr, r.config, step.FallbackStepID(), attempt)

		logger.WarnContext(ctx, "Step failed",
			"attempt", attempt, "error_type", werr.Type, "error", werr.Message, "action", action.Kind)

		switch action.Kind {
		case errorhandler.ActionRetry:
			if !e.scheduleRetry(ctx, r, executionID, step, werr, attempt, action.Delay) {
				return
			}

			attempt++
		case errorhandler.ActionContinue:
			e.resolve(ctx, r, executionID, step, models.StepStatusFailed, nil, werr,
				&models.ResolvedStep{StepID: step.ID, Outcome: models.StepOutcomeContinued})

			return
		case errorhandler.ActionFallback:
			e.resolve(ctx, r, executionID, step, models.StepStatusFailed, nil, werr,
				&models.ResolvedStep{
					StepID:         step.ID,
					Outcome:        models.StepOutcomeFallback,
					FallbackStepID: action.FallbackStepID,
				})

			return
		default:
			_, recorded, _ := e.recordStep(ctx, r, executionID, step, func(s *models.StepExecution) {
				e.finishStep(s, models.StepStatusFailed, nil, werr)
			}, nil)
			if recorded {
				e.fail(ctx, r, executionID, werr)
			}

			return
		}
	}
}

// attempt marks the step in progress and invokes its executor under the step timeout.
// ran is false when the execution left running before dispatch.
func (e *Engine) attempt(
	ctx context.Context,
	r *run,
	executionID string,
	step *models.WorkflowStep,
	executor registry.StepExecutor,
	attempt int,
) (models.StepResult, bool) {
	execution, recorded, err := e.recordStep(ctx, r, executionID, step, func(s *models.StepExecution) {
		s.Status = models.StepStatusInProgress
		s.Attempt = attempt
		s.StartedAt = e.clock.Now().UTC()
		s.CompletedAt = nil
	}, nil)
	if err != nil || !recorded {
		return models.StepResult{}, false
	}

	stepCtx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.step",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
		attribute.Int(otelhelper.AttemptKey, attempt),
	)
	defer span.End()

	execCtx := execution.Context.Clone()
	input := models.CloneMap(execCtx.Data)
	config := models.CloneMap(step.Config)

	result, finished := e.invoke(stepCtx, r, step, executor, input, config, &execCtx)
	if !finished {
		return models.StepResult{}, false
	}

	if !result.Success && result.Error != nil {
		otelhelper.SetError(span, result.Error)
	}

	return result, true
}

// invoke runs the executor in its own goroutine so panics and hung executors
// cannot stall the frontier. When the run is halted invoke returns at once with
// finished=false; the executor keeps running and its result is dropped.
func (e *Engine) invoke(
	ctx context.Context,
	r *run,
	step *models.WorkflowStep,
	executor registry.StepExecutor,
	input, config map[string]any,
	execCtx *models.ExecutionContext,
) (models.StepResult, bool) {
	timeout := time.Duration(r.definition.Settings.TimeoutSeconds) * time.Second

	stepCtx := ctx

	if timeout > 0 {
		var cancel context.CancelFunc

		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	results := make(chan models.StepResult, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				results <- models.Failed(fmt.Errorf("step %s executor panicked: %v", step.ID, p))
			}
		}()

		results <- executor(stepCtx, input, config, execCtx)
	}()

	select {
	case result := <-results:
		return result, true
	case <-r.stop:
		return models.StepResult{}, false
	case <-stepCtx.Done():
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			return models.Failed(fmt.Errorf("step %s timed out after %s: %w", step.ID, timeout, context.DeadlineExceeded)), true
		}

		return models.Failed(stepCtx.Err()), true
	}
}

// scheduleRetry records the failure, moves the step back to pending with its retry
// counter and waits out the delay. It reports false if the wait was interrupted.
func (e *Engine) scheduleRetry(
	ctx context.Context,
	r *run,
	executionID string,
	step *models.WorkflowStep,
	werr *models.WorkflowError,
	attempt int,
	delay time.Duration,
) bool {
	_, recorded, _ := e.recordStep(ctx, r, executionID, step, func(s *models.StepExecution) {
		e.finishStep(s, models.StepStatusFailed, nil, werr)
	}, nil)
	if !recorded {
		return false
	}

	_, recorded, _ = e.recordStep(ctx, r, executionID, step, func(s *models.StepExecution) {
		s.Status = models.StepStatusPending
		s.CompletedAt = nil
		s.Output = map[string]any{models.RetryAttemptKey: attempt}
	}, nil)
	if !recorded {
		return false
	}

	e.logger.InfoContext(ctx, "Retrying step",
		"execution_id", executionID, "step_id", step.ID, "attempt", attempt+1, "delay", delay)

	select {
	case <-e.clock.After(delay):
		return true
	case <-r.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) finishStep(s *models.StepExecution, status models.StepStatus, output map[string]any, werr *models.WorkflowError) {
	completedAt := e.clock.Now().UTC()

	s.Status = status
	s.Output = models.CloneMap(output)
	s.Error = werr
	s.CompletedAt = &completedAt
}

// resolve finishes a step and folds it into the frontier. When it was the last
// unresolved step the next frontier is computed in the same write.
func (e *Engine) resolve(
	ctx context.Context,
	r *run,
	executionID string,
	step *models.WorkflowStep,
	status models.StepStatus,
	output map[string]any,
	werr *models.WorkflowError,
	resolved *models.ResolvedStep,
) {
	execution, recorded, err := e.recordStep(ctx, r, executionID, step, func(s *models.StepExecution) {
		e.finishStep(s, status, output, werr)
	}, resolved)
	if err != nil || !recorded {
		return
	}

	if execution.Status == models.ExecutionStatusCompleted {
		e.release(executionID)

		e.logger.InfoContext(ctx, "Execution completed", "execution_id", executionID)
	}
}

// recordStep mutates the step record, and the execution when resolved is set,
// only while the execution is running. Store failures fail the execution.
func (e *Engine) recordStep(
	ctx context.Context,
	r *run,
	executionID string,
	step *models.WorkflowStep,
	mutate func(*models.StepExecution),
	resolved *models.ResolvedStep,
) (*models.WorkflowExecution, bool, error) {
	execution, err := e.writeStep(ctx, r, executionID, step, mutate, resolved)
	if errors.Is(err, errDiscarded) {
		e.logger.DebugContext(ctx, "Discarding step result", "execution_id", executionID, "step_id", step.ID)

		return nil, false, nil
	}

	if err != nil {
		e.fail(ctx, r, executionID, models.NewWorkflowError(models.ErrorTypeSystem, err.Error(),
			map[string]any{"step_id": step.ID}))

		return nil, false, err
	}

	return execution, true, nil
}

func (e *Engine) writeStep(
	ctx context.Context,
	r *run,
	executionID string,
	step *models.WorkflowStep,
	mutate func(*models.StepExecution),
	resolved *models.ResolvedStep,
) (*models.WorkflowExecution, error) {
	unlock := e.records.Lock(executionID)
	defer unlock()

	if r.stopped() {
		return nil, errDiscarded
	}

	repo := e.store.ExecutionRepository()

	execution, err := repo.GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	if execution.Status != models.ExecutionStatusRunning {
		return nil, errDiscarded
	}

	record, err := repo.GetStep(ctx, executionID, step.ID)
	if persistence.IsStepExecutionNotFound(err) {
		record = &models.StepExecution{
			ID:          uuid.NewString(),
			ExecutionID: executionID,
			TenantID:    execution.TenantID,
			StepID:      step.ID,
			StepName:    step.Name,
			StepType:    step.Type,
			Status:      models.StepStatusPending,
			Input:       models.CloneMap(execution.Context.Data),
		}

		err = e.saveStep(ctx, record)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load step %s: %w", step.ID, err)
	}

	mutate(record)

	if record.Status == models.StepStatusInProgress {
		record.Input = models.CloneMap(execution.Context.Data)
	}

	err = e.saveStep(ctx, record)
	if err != nil {
		return nil, err
	}

	if resolved == nil {
		return execution, nil
	}

	if resolved.Outcome == models.StepOutcomeCompleted {
		execution.Context.MergeStepOutput(step.ID, record.Output)
	}

	execution.CurrentSteps = slices.DeleteFunc(execution.CurrentSteps, func(id string) bool { return id == step.ID })
	execution.ResolvedSteps = append(execution.ResolvedSteps, *resolved)

	if len(execution.CurrentSteps) == 0 {
		e.advance(execution, r.definition)
	}

	err = e.saveExecution(ctx, execution)
	if err != nil {
		return nil, err
	}

	return execution, nil
}

// advance replaces a drained frontier with the next one: the ordered,
// de-duplicated union of the edges taken by the resolved steps, visited in
// definition order so the result does not depend on completion timing.
// A candidate that another candidate can still reach is a join and waits in
// DeferredSteps until its last possible predecessor has resolved, so it runs
// once. An empty next frontier completes the execution.
func (e *Engine) advance(execution *models.WorkflowExecution, definition *models.WorkflowDefinition) {
	resolved := make(map[string]models.ResolvedStep, len(execution.ResolvedSteps))
	for _, rs := range execution.ResolvedSteps {
		resolved[rs.StepID] = rs
	}

	candidates := make(map[string]bool)

	for _, id := range execution.DeferredSteps {
		candidates[id] = true
	}

	for _, step := range definition.Steps {
		rs, ok := resolved[step.ID]
		if !ok {
			continue
		}

		switch rs.Outcome {
		case models.StepOutcomeCompleted:
			for _, edge := range NextFrontier(step, execution.Context.Data) {
				candidates[edge] = true
			}
		case models.StepOutcomeFallback:
			candidates[rs.FallbackStepID] = true
		}
	}

	next := make([]string, 0, len(candidates))
	deferred := make([]string, 0)

	for _, step := range definition.Steps {
		if !candidates[step.ID] {
			continue
		}

		if joinPending(definition, candidates, step.ID) {
			deferred = append(deferred, step.ID)
		} else {
			next = append(next, step.ID)
		}
	}

	// steps that reach each other through fallbacks cannot all wait
	if len(next) == 0 {
		next, deferred = deferred, nil
	}

	execution.CurrentSteps = next
	execution.DeferredSteps = deferred
	execution.ResolvedSteps = nil

	if len(next) == 0 {
		completedAt := e.clock.Now().UTC()
		execution.Status = models.ExecutionStatusCompleted
		execution.CompletedAt = &completedAt
	}
}

// joinPending reports whether another candidate can still reach id.
func joinPending(definition *models.WorkflowDefinition, candidates map[string]bool, id string) bool {
	for other := range candidates {
		if other != id && definition.Reaches(other, id) {
			return true
		}
	}

	return false
}

func (e *Engine) saveStep(ctx context.Context, record *models.StepExecution) error {
	record.Revision++

	err := e.store.ExecutionRepository().SaveStep(ctx, record)
	if err != nil {
		return fmt.Errorf("failed to save step %s: %w", record.StepID, err)
	}

	e.observeStep(ctx, record)

	return nil
}

// NextFrontier returns the targets of the edges of step taken for data.
func NextFrontier(step *models.WorkflowStep, data map[string]any) []string {
	next := make([]string, 0, len(step.NextSteps))

	for _, edge := range step.NextSteps {
		if edge.Condition == nil || edge.Condition.Evaluate(data) {
			next = append(next, edge.StepID)
		}
	}

	return next
}

// complete finishes an execution whose frontier is empty.
func (e *Engine) complete(ctx context.Context, r *run, executionID string) {
	unlock := e.records.Lock(executionID)

	execution, err := e.store.ExecutionRepository().GetExecution(ctx, executionID)
	if err == nil && execution.Status == models.ExecutionStatusRunning && len(execution.CurrentSteps) == 0 {
		completedAt := e.clock.Now().UTC()
		execution.Status = models.ExecutionStatusCompleted
		execution.CompletedAt = &completedAt
		err = e.saveExecution(ctx, execution)
	}

	unlock()

	if err != nil {
		e.fail(ctx, r, executionID, models.NewWorkflowError(models.ErrorTypeSystem, err.Error(), nil))

		return
	}

	e.release(executionID)
}

// fail moves a running execution to failed and runs the workflow failure handling.
func (e *Engine) fail(ctx context.Context, r *run, executionID string, werr *models.WorkflowError) {
	logger := e.logger.With("execution_id", executionID)

	unlock := e.records.Lock(executionID)

	execution, err := e.store.ExecutionRepository().GetExecution(ctx, executionID)
	if err != nil {
		unlock()
		logger.ErrorContext(ctx, "failed to load execution to mark it failed", "error", err)
		e.release(executionID)

		return
	}

	if execution.Status != models.ExecutionStatusRunning {
		unlock()

		return
	}

	completedAt := e.clock.Now().UTC()
	execution.Status = models.ExecutionStatusFailed
	execution.CompletedAt = &completedAt
	execution.Error = werr

	err = e.saveExecution(ctx, execution)

	unlock()
	e.release(executionID)

	if err != nil {
		logger.ErrorContext(ctx, "failed to mark execution failed", "error", err)

		return
	}

	logger.ErrorContext(ctx, "Execution failed", "error_type", werr.Type, "error", werr.Message)

	e.handleFailure(ctx, logger, r, execution, werr)
}

func (e *Engine) handleFailure(
	ctx context.Context,
	logger *slog.Logger,
	r *run,
	execution *models.WorkflowExecution,
	werr *models.WorkflowError,
) {
	steps, err := e.store.ExecutionRepository().ListSteps(ctx, execution.ID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to list steps for failure handling", "error", err)
	}

	records, err := e.handler.HandleWorkflowFailure(ctx, execution, werr, r.config, steps)
	if err != nil {
		logger.ErrorContext(ctx, "workflow failure handling failed", "error", err)
	}

	if len(records) > 0 {
		logger.InfoContext(ctx, "Rollback recorded", "records", len(records))
	}
}
