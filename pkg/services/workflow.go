package services

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
)

// ErrWorkflowNotFound is returned when a workflow is not found.
var ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

// Workflow manages draft workflow definitions.
type Workflow struct {
	persistence persistence.Persistence
	validate    *validator.Validate
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, validate *validator.Validate) *Workflow {
	return &Workflow{
		persistence: persistence,
		validate:    validate,
	}
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	// TenantID limits the list to one tenant; empty lists every tenant.
	TenantID string
	Status   models.WorkflowStatus `validate:"omitempty,oneof=draft published archived"`
}

// ListWorkflows returns matching workflows, most recently updated first.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) ([]*models.WorkflowDefinition, error) {
	err := w.validate.Struct(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStatus, err)
	}

	workflows, err := w.persistence.WorkflowRepository().List(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	filtered := make([]*models.WorkflowDefinition, 0, len(workflows))

	for _, workflow := range workflows {
		if req.Status == "" || workflow.Status == req.Status {
			filtered = append(filtered, workflow)
		}
	}

	slices.SortFunc(filtered, func(a, b *models.WorkflowDefinition) int {
		return cmp.Or(b.UpdatedAt.Compare(a.UpdatedAt), strings.Compare(a.ID, b.ID))
	})

	return filtered, nil
}

func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return w.persistence.WorkflowRepository().GetByID(ctx, id)
}

// Create stores a new draft. The id is generated when empty.
func (w *Workflow) Create(ctx context.Context, workflow *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	if workflow.Version == 0 {
		workflow.Version = 1
	}

	now := time.Now().UTC()
	workflow.Status = models.WorkflowStatusDraft
	workflow.PublishedAt = nil
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	err := workflow.Validate(w.validate)
	if err != nil {
		return nil, err
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	return workflow, nil
}

// Update replaces the content of a draft. Identity, tenant and version are kept.
func (w *Workflow) Update(ctx context.Context, id string, workflow *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	existing, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	err = requireDraft(existing)
	if err != nil {
		return nil, err
	}

	workflow.ID = existing.ID
	workflow.TenantID = existing.TenantID
	workflow.Version = existing.Version
	workflow.Status = models.WorkflowStatusDraft
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()

	err = workflow.Validate(w.validate)
	if err != nil {
		return nil, err
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	return workflow, nil
}

// Delete removes a draft or archived workflow. Published workflows must be
// archived first.
func (w *Workflow) Delete(ctx context.Context, id string) error {
	existing, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return err
	}

	if existing.Status == models.WorkflowStatusPublished {
		return fmt.Errorf("%w: archive %s before deleting it", ErrCannotModifyPublished, id)
	}

	return w.persistence.WorkflowRepository().Delete(ctx, id)
}

func requireDraft(workflow *models.WorkflowDefinition) error {
	switch workflow.Status {
	case models.WorkflowStatusPublished:
		return fmt.Errorf("%w: %s", ErrCannotModifyPublished, workflow.ID)
	case models.WorkflowStatusArchived:
		return fmt.Errorf("%w: %s", ErrWorkflowArchived, workflow.ID)
	default:
		return nil
	}
}
