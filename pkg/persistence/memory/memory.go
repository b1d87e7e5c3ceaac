// Package memory provides an in-process persistence implementation.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
)

// Persistence keeps every entity in maps guarded by one lock.
type Persistence struct {
	mu          sync.RWMutex
	workflows   map[string]*models.WorkflowDefinition
	executions  map[string]*models.WorkflowExecution
	steps       map[string]map[string]*models.StepExecution
	rollbacks   map[string][]*models.RollbackRecord
	templates   map[string]*models.TriggerTemplate
	triggers    map[string]*models.WorkflowTrigger
	events      map[string][]*models.TriggerEvent
	broadcaster *persistence.Broadcaster
}

func NewPersistence() *Persistence {
	return &Persistence{
		workflows:   make(map[string]*models.WorkflowDefinition),
		executions:  make(map[string]*models.WorkflowExecution),
		steps:       make(map[string]map[string]*models.StepExecution),
		rollbacks:   make(map[string][]*models.RollbackRecord),
		templates:   make(map[string]*models.TriggerTemplate),
		triggers:    make(map[string]*models.WorkflowTrigger),
		events:      make(map[string][]*models.TriggerEvent),
		broadcaster: persistence.NewBroadcaster(),
	}
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return &workflowRepository{p}
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return &executionRepository{p}
}

func (p *Persistence) TriggerRepository() persistence.TriggerRepository {
	return &triggerRepository{p}
}

func (p *Persistence) Subscribe(_ context.Context, tenantID string, handler persistence.ChangeHandler) (persistence.Subscription, error) {
	return p.broadcaster.Subscribe(tenantID, handler), nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

type workflowRepository struct{ p *Persistence }

func (r *workflowRepository) Save(_ context.Context, workflow *models.WorkflowDefinition) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored := *workflow
	r.p.workflows[workflow.ID] = &stored

	return nil
}

func (r *workflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	workflow, ok := r.p.workflows[id]
	if !ok {
		return nil, persistence.NewEntityError("GetByID", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	stored := *workflow

	return &stored, nil
}

func (r *workflowRepository) List(_ context.Context, tenantID string) ([]*models.WorkflowDefinition, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	workflows := make([]*models.WorkflowDefinition, 0, len(r.p.workflows))

	for _, workflow := range r.p.workflows {
		if tenantID != "" && workflow.TenantID != tenantID {
			continue
		}

		stored := *workflow
		workflows = append(workflows, &stored)
	}

	slices.SortFunc(workflows, func(a, b *models.WorkflowDefinition) int { return cmp.Compare(a.ID, b.ID) })

	return workflows, nil
}

func (r *workflowRepository) Delete(_ context.Context, id string) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if _, ok := r.p.workflows[id]; !ok {
		return persistence.NewEntityError("Delete", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	delete(r.p.workflows, id)

	return nil
}

type executionRepository struct{ p *Persistence }

func (r *executionRepository) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	r.p.mu.Lock()
	_, existed := r.p.executions[execution.ID]
	r.p.executions[execution.ID] = execution.Clone()
	r.p.mu.Unlock()

	r.p.broadcaster.Publish(ctx, persistence.Change{
		Table:     persistence.TableExecutions,
		Kind:      changeKind(existed),
		TenantID:  execution.TenantID,
		Execution: execution.Clone(),
	})

	return nil
}

func (r *executionRepository) GetExecution(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	execution, ok := r.p.executions[id]
	if !ok {
		return nil, persistence.NewEntityError("GetExecution", "execution", id, persistence.ErrExecutionNotFound)
	}

	return execution.Clone(), nil
}

func (r *executionRepository) ListExecutions(_ context.Context, filter persistence.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	executions := make([]*models.WorkflowExecution, 0)

	for _, execution := range r.p.executions {
		if filter.Matches(execution) {
			executions = append(executions, execution.Clone())
		}
	}

	slices.SortFunc(executions, func(a, b *models.WorkflowExecution) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.ID, b.ID))
	})

	return executions, nil
}

func (r *executionRepository) SaveStep(ctx context.Context, step *models.StepExecution) error {
	r.p.mu.Lock()

	steps, ok := r.p.steps[step.ExecutionID]
	if !ok {
		steps = make(map[string]*models.StepExecution)
		r.p.steps[step.ExecutionID] = steps
	}

	_, existed := steps[step.StepID]
	steps[step.StepID] = step.Clone()
	r.p.mu.Unlock()

	r.p.broadcaster.Publish(ctx, persistence.Change{
		Table:    persistence.TableStepExecutions,
		Kind:     changeKind(existed),
		TenantID: step.TenantID,
		Step:     step.Clone(),
	})

	return nil
}

func (r *executionRepository) GetStep(_ context.Context, executionID, stepID string) (*models.StepExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	step, ok := r.p.steps[executionID][stepID]
	if !ok {
		return nil, persistence.NewEntityError("GetStep", "step", executionID+"/"+stepID, persistence.ErrStepExecutionNotFound)
	}

	return step.Clone(), nil
}

func (r *executionRepository) ListSteps(_ context.Context, executionID string) ([]*models.StepExecution, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	steps := make([]*models.StepExecution, 0, len(r.p.steps[executionID]))
	for _, step := range r.p.steps[executionID] {
		steps = append(steps, step.Clone())
	}

	persistence.SortSteps(steps)

	return steps, nil
}

func (r *executionRepository) SaveRollbackRecord(_ context.Context, record *models.RollbackRecord) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored := *record
	r.p.rollbacks[record.ExecutionID] = append(r.p.rollbacks[record.ExecutionID], &stored)

	return nil
}

func (r *executionRepository) ListRollbackRecords(_ context.Context, executionID string) ([]*models.RollbackRecord, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	records := make([]*models.RollbackRecord, 0, len(r.p.rollbacks[executionID]))

	for _, record := range r.p.rollbacks[executionID] {
		stored := *record
		records = append(records, &stored)
	}

	return records, nil
}

type triggerRepository struct{ p *Persistence }

func (r *triggerRepository) SaveTemplate(_ context.Context, template *models.TriggerTemplate) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored := *template
	r.p.templates[template.ID] = &stored

	return nil
}

func (r *triggerRepository) GetTemplate(_ context.Context, id string) (*models.TriggerTemplate, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	template, ok := r.p.templates[id]
	if !ok {
		return nil, persistence.NewEntityError("GetTemplate", "template", id, persistence.ErrTemplateNotFound)
	}

	stored := *template

	return &stored, nil
}

func (r *triggerRepository) SaveTrigger(_ context.Context, trigger *models.WorkflowTrigger) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored := *trigger
	r.p.triggers[trigger.ID] = &stored

	return nil
}

func (r *triggerRepository) GetTrigger(_ context.Context, id string) (*models.WorkflowTrigger, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	trigger, ok := r.p.triggers[id]
	if !ok {
		return nil, persistence.NewEntityError("GetTrigger", "trigger", id, persistence.ErrTriggerNotFound)
	}

	stored := *trigger

	return &stored, nil
}

func (r *triggerRepository) ListActiveTriggers(_ context.Context) ([]*models.WorkflowTrigger, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	triggers := make([]*models.WorkflowTrigger, 0)

	for _, trigger := range r.p.triggers {
		workflow, ok := r.p.workflows[trigger.WorkflowID]
		if !trigger.Active || !ok || !workflow.IsPublished() {
			continue
		}

		stored := *trigger
		triggers = append(triggers, &stored)
	}

	slices.SortFunc(triggers, func(a, b *models.WorkflowTrigger) int { return cmp.Compare(a.ID, b.ID) })

	return triggers, nil
}

func (r *triggerRepository) SaveEvent(_ context.Context, event *models.TriggerEvent) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	stored := *event
	events := r.p.events[event.TriggerID]

	for i, existing := range events {
		if existing.ID == event.ID {
			events[i] = &stored

			return nil
		}
	}

	r.p.events[event.TriggerID] = append(events, &stored)

	return nil
}

func (r *triggerRepository) ListEvents(_ context.Context, triggerID string) ([]*models.TriggerEvent, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	events := make([]*models.TriggerEvent, 0, len(r.p.events[triggerID]))

	for _, event := range r.p.events[triggerID] {
		stored := *event
		events = append(events, &stored)
	}

	return events, nil
}

func changeKind(existed bool) persistence.ChangeKind {
	if existed {
		return persistence.ChangeUpdate
	}

	return persistence.ChangeInsert
}
