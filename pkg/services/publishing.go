package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
)

// Publishing moves workflows between draft, published and archived.
type Publishing struct {
	persistence persistence.Persistence
	validate    *validator.Validate
}

// NewPublishing creates a new workflow publishing service.
func NewPublishing(persistence persistence.Persistence, validate *validator.Validate) *Publishing {
	return &Publishing{
		persistence: persistence,
		validate:    validate,
	}
}

// PublishWorkflow validates a draft and makes it executable. Publishing a
// published workflow returns it unchanged.
func (p *Publishing) PublishWorkflow(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	workflow, err := p.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	switch workflow.Status {
	case models.WorkflowStatusPublished:
		return workflow, nil
	case models.WorkflowStatusArchived:
		return nil, fmt.Errorf("%w: %s", ErrWorkflowArchived, workflowID)
	}

	err = p.validateForPublishing(workflow)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	workflow.Status = models.WorkflowStatusPublished
	workflow.PublishedAt = &now
	workflow.UpdatedAt = now

	err = p.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to publish workflow: %w", err)
	}

	return workflow, nil
}

// ArchiveWorkflow retires a workflow. New executions and trigger firings are
// refused; running executions are left alone.
func (p *Publishing) ArchiveWorkflow(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	workflow, err := p.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status == models.WorkflowStatusArchived {
		return workflow, nil
	}

	workflow.Status = models.WorkflowStatusArchived
	workflow.UpdatedAt = time.Now().UTC()

	err = p.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to archive workflow: %w", err)
	}

	return workflow, nil
}

// CreateDraftFromPublished copies a published workflow into a new draft with
// the next version number.
func (p *Publishing) CreateDraftFromPublished(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	published, err := p.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !published.IsPublished() {
		return nil, fmt.Errorf("%w: %s", ErrNotPublished, workflowID)
	}

	now := time.Now().UTC()
	draft := published.Clone()
	draft.ID = uuid.New().String()
	draft.Version = published.Version + 1
	draft.Status = models.WorkflowStatusDraft
	draft.Triggers = nil
	draft.PublishedAt = nil
	draft.CreatedAt = now
	draft.UpdatedAt = now

	err = p.persistence.WorkflowRepository().Save(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("failed to save draft: %w", err)
	}

	return draft, nil
}

// validateForPublishing ensures a workflow is ready to be published.
func (p *Publishing) validateForPublishing(workflow *models.WorkflowDefinition) error {
	if len(workflow.Steps) == 0 {
		return fmt.Errorf("%w: workflow %s has no steps", models.ErrInvalidDefinition, workflow.ID)
	}

	return workflow.Validate(p.validate)
}
