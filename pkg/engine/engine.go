// Package engine drives workflow executions through their step graphs.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/vincentsider/bolt.new-sub002/pkg/errorhandler"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/otelhelper"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
	"github.com/vincentsider/bolt.new-sub002/pkg/registry"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"
)

// Observer is fed every execution and step write, in write order.
type Observer interface {
	ApplyExecution(ctx context.Context, execution *models.WorkflowExecution)
	ApplyStep(ctx context.Context, step *models.StepExecution)
}

// StartRequest carries the inputs of a new execution.
type StartRequest struct {
	WorkflowID string           `json:"workflow_id" validate:"required"`
	Initiator  models.Initiator `json:"initiator"`
	Data       map[string]any   `json:"data"`
	Files      []models.File    `json:"files,omitempty"`
}

// ExecutionStatus is the stored state of one execution and its steps.
type ExecutionStatus struct {
	Execution *models.WorkflowExecution `json:"execution"`
	Steps     []*models.StepExecution   `json:"steps"`
}

// run is the in-memory handle of an execution admitted to processing.
type run struct {
	definition *models.WorkflowDefinition
	config     errorhandler.Config
	stop       chan struct{}
	stopOnce   sync.Once
}

func (r *run) halt() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *run) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithObserver(observer Observer) Option {
	return func(e *Engine) { e.observer = observer }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

func WithValidator(validate *validator.Validate) Option {
	return func(e *Engine) { e.validate = validate }
}

// Engine executes published workflow definitions. It keeps the set of running
// executions in memory; it is not safe to share one store between several engines.
type Engine struct {
	logger    *slog.Logger
	store     persistence.Persistence
	registry  *registry.Registry
	handler   *errorhandler.Handler
	observer  Observer
	clock     clock.Clock
	tracer    trace.Tracer
	validate  *validator.Validate
	loops     *keyedMutex
	records   *keyedMutex
	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu     sync.Mutex
	active map[string]*run
	closed bool
}

func NewEngine(
	logger *slog.Logger,
	store persistence.Persistence,
	stepRegistry *registry.Registry,
	handler *errorhandler.Handler,
	opts ...Option,
) *Engine {
	baseCtx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		logger:    logger.With("module", "engine"),
		store:     store,
		registry:  stepRegistry,
		handler:   handler,
		clock:     clock.RealClock{},
		tracer:    otelhelper.Tracer("flowcore/engine"),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		loops:     newKeyedMutex(),
		records:   newKeyedMutex(),
		baseCtx:   baseCtx,
		cancelAll: cancel,
		active:    make(map[string]*run),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// RegisterStepExecutor installs or replaces the executor of a step type.
func (e *Engine) RegisterStepExecutor(stepType models.StepType, executor registry.StepExecutor) error {
	return e.registry.Register(stepType, executor)
}

// Start creates a running execution of a published workflow and processes it in
// the background. It returns once the execution is persisted.
func (e *Engine) Start(ctx context.Context, req StartRequest) (string, error) {
	if req.Initiator.Type == "" {
		req.Initiator.Type = models.InitiatorAPI
	}

	err := e.validate.Struct(req)
	if err != nil {
		return "", fmt.Errorf("invalid start request: %w", err)
	}

	definition, err := e.store.WorkflowRepository().GetByID(ctx, req.WorkflowID)
	if err != nil {
		return "", fmt.Errorf("failed to load workflow %s: %w", req.WorkflowID, err)
	}

	if !definition.IsPublished() {
		return "", fmt.Errorf("%w: %s is %s", ErrWorkflowNotPublished, definition.ID, definition.Status)
	}

	err = definition.Validate(e.validate)
	if err != nil {
		return "", models.WrapWorkflowError(models.ErrorTypeValidation, err, map[string]any{"workflow_id": definition.ID})
	}

	now := e.clock.Now().UTC()

	data := models.CloneMap(req.Data)
	if data == nil {
		data = make(map[string]any)
	}

	execution := &models.WorkflowExecution{
		ID:              uuid.NewString(),
		TenantID:        definition.TenantID,
		WorkflowID:      definition.ID,
		WorkflowVersion: definition.Version,
		Status:          models.ExecutionStatusRunning,
		CurrentSteps:    definition.EntrySteps(),
		Context: models.ExecutionContext{
			Initiator: req.Initiator,
			Data:      data,
			Files:     req.Files,
		},
		StartedAt: now,
		Revision:  1,
	}

	if minutes := definition.Settings.SLAMinutes; minutes > 0 {
		deadline := now.Add(time.Duration(minutes) * time.Minute)
		execution.SLADeadline = &deadline
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return "", ErrEngineStopped
	}

	err = e.store.ExecutionRepository().SaveExecution(ctx, execution)
	if err != nil {
		return "", fmt.Errorf("failed to save execution: %w", err)
	}

	e.observeExecution(ctx, execution)

	e.admit(execution.ID, definition)

	e.logger.InfoContext(ctx, "Execution started",
		"execution_id", execution.ID,
		"workflow_id", definition.ID,
		"tenant_id", definition.TenantID,
		"frontier", execution.CurrentSteps)

	return execution.ID, nil
}

// admit registers a run and spawns its processing loop. Callers hold e.mu.
func (e *Engine) admit(executionID string, definition *models.WorkflowDefinition) {
	r := &run{
		definition: definition,
		config:     errorhandler.ConfigFromSettings(definition.Settings),
		stop:       make(chan struct{}),
	}

	if previous, ok := e.active[executionID]; ok {
		previous.halt()
	}

	e.active[executionID] = r

	e.wg.Add(1)

	go e.process(executionID, r)
}

func (e *Engine) release(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.active[executionID]; ok {
		r.halt()
		delete(e.active, executionID)
	}
}

// Pause moves a running execution to paused and resets its in-progress steps to
// pending so resume restarts them from scratch.
func (e *Engine) Pause(ctx context.Context, executionID string) error {
	unlock := e.records.Lock(executionID)
	defer unlock()

	execution, err := e.transition(ctx, executionID, models.ExecutionStatusPaused)
	if err != nil {
		return err
	}

	e.release(executionID)

	steps, err := e.store.ExecutionRepository().ListSteps(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to list steps of execution %s: %w", executionID, err)
	}

	for _, step := range steps {
		if step.Status != models.StepStatusInProgress {
			continue
		}

		step.Status = models.StepStatusPending

		err = e.saveStep(ctx, step)
		if err != nil {
			return err
		}
	}

	e.logger.InfoContext(ctx, "Execution paused", "execution_id", executionID, "frontier", execution.CurrentSteps)

	return nil
}

// Resume moves a paused execution back to running and restarts its frontier.
func (e *Engine) Resume(ctx context.Context, executionID string) error {
	unlock := e.records.Lock(executionID)
	defer unlock()

	current, err := e.store.ExecutionRepository().GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	definition, err := e.store.WorkflowRepository().GetByID(ctx, current.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow %s: %w", current.WorkflowID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineStopped
	}

	execution, err := e.transition(ctx, executionID, models.ExecutionStatusRunning)
	if err != nil {
		return err
	}

	e.admit(executionID, definition)

	e.logger.InfoContext(ctx, "Execution resumed", "execution_id", executionID, "frontier", execution.CurrentSteps)

	return nil
}

// Cancel terminates a running or paused execution. Results of steps still in
// flight are discarded.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	unlock := e.records.Lock(executionID)
	defer unlock()

	_, err := e.transition(ctx, executionID, models.ExecutionStatusCancelled)
	if err != nil {
		return err
	}

	e.release(executionID)

	e.logger.InfoContext(ctx, "Execution cancelled", "execution_id", executionID)

	return nil
}

// transition applies a status change to the stored execution. Callers hold the records lock.
func (e *Engine) transition(
	ctx context.Context,
	executionID string,
	next models.ExecutionStatus,
) (*models.WorkflowExecution, error) {
	execution, err := e.store.ExecutionRepository().GetExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	if !execution.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: cannot move execution %s from %s to %s",
			ErrInvalidTransition, executionID, execution.Status, next)
	}

	execution.Status = next

	if next.Terminal() {
		completedAt := e.clock.Now().UTC()
		execution.CompletedAt = &completedAt
	}

	err = e.saveExecution(ctx, execution)
	if err != nil {
		return nil, err
	}

	return execution, nil
}

// GetStatus returns the stored execution with its step records.
func (e *Engine) GetStatus(ctx context.Context, executionID string) (*ExecutionStatus, error) {
	execution, err := e.store.ExecutionRepository().GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}

	steps, err := e.store.ExecutionRepository().ListSteps(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps of execution %s: %w", executionID, err)
	}

	return &ExecutionStatus{Execution: execution, Steps: steps}, nil
}

// ActiveExecutions lists the ids of executions this engine is processing.
func (e *Engine) ActiveExecutions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids
}

// Shutdown stops dispatching new steps and waits for in-flight steps. If ctx
// expires first, running executors see their context cancelled.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true

	for _, r := range e.active {
		r.halt()
	}
	e.mu.Unlock()

	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancelAll()

		return nil
	case <-ctx.Done():
		e.cancelAll()
		<-done

		return fmt.Errorf("engine shutdown interrupted: %w", ctx.Err())
	}
}

// saveExecution bumps the revision, persists and mirrors an execution.
func (e *Engine) saveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	execution.Revision++

	err := e.store.ExecutionRepository().SaveExecution(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", execution.ID, err)
	}

	e.observeExecution(ctx, execution)

	return nil
}

func (e *Engine) observeExecution(ctx context.Context, execution *models.WorkflowExecution) {
	if e.observer != nil {
		e.observer.ApplyExecution(ctx, execution.Clone())
	}
}

func (e *Engine) observeStep(ctx context.Context, step *models.StepExecution) {
	if e.observer != nil {
		e.observer.ApplyStep(ctx, step.Clone())
	}
}
