// Package persistence provides the storage abstraction for workflows, executions and triggers.
package persistence

import (
	"cmp"
	"context"
	"slices"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	TriggerRepository() TriggerRepository

	// Subscribe delivers insert and update notifications for executions and step
	// executions of one tenant, or of every tenant when tenantID is empty.
	Subscribe(ctx context.Context, tenantID string, handler ChangeHandler) (Subscription, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	// List returns the workflows of a tenant, or all workflows when tenantID is empty.
	List(ctx context.Context, tenantID string) ([]*models.WorkflowDefinition, error)
	Delete(ctx context.Context, id string) error
}

// ExecutionFilter narrows ListExecutions; zero fields match everything.
type ExecutionFilter struct {
	TenantID   string
	WorkflowID string
	Status     models.ExecutionStatus
}

// Matches reports whether the execution passes the filter.
func (f ExecutionFilter) Matches(execution *models.WorkflowExecution) bool {
	if f.TenantID != "" && execution.TenantID != f.TenantID {
		return false
	}

	if f.WorkflowID != "" && execution.WorkflowID != f.WorkflowID {
		return false
	}

	if f.Status != "" && execution.Status != f.Status {
		return false
	}

	return true
}

type ExecutionRepository interface {
	SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error
	GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*models.WorkflowExecution, error)

	// SaveStep upserts the single row of (executionID, stepID).
	SaveStep(ctx context.Context, step *models.StepExecution) error
	GetStep(ctx context.Context, executionID, stepID string) (*models.StepExecution, error)
	ListSteps(ctx context.Context, executionID string) ([]*models.StepExecution, error)

	SaveRollbackRecord(ctx context.Context, record *models.RollbackRecord) error
	ListRollbackRecords(ctx context.Context, executionID string) ([]*models.RollbackRecord, error)
}

type TriggerRepository interface {
	SaveTemplate(ctx context.Context, template *models.TriggerTemplate) error
	GetTemplate(ctx context.Context, id string) (*models.TriggerTemplate, error)

	SaveTrigger(ctx context.Context, trigger *models.WorkflowTrigger) error
	GetTrigger(ctx context.Context, id string) (*models.WorkflowTrigger, error)
	// ListActiveTriggers returns active triggers whose workflow is published, across tenants.
	ListActiveTriggers(ctx context.Context) ([]*models.WorkflowTrigger, error)

	SaveEvent(ctx context.Context, event *models.TriggerEvent) error
	ListEvents(ctx context.Context, triggerID string) ([]*models.TriggerEvent, error)
}

// SortSteps orders step rows by start time, then step id.
func SortSteps(steps []*models.StepExecution) {
	slices.SortStableFunc(steps, func(a, b *models.StepExecution) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.StepID, b.StepID))
	})
}
