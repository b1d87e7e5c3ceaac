package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
	"github.com/vincentsider/bolt.new-sub002/pkg/trigger"
)

// Trigger binds trigger templates to workflows. The monitor service picks up
// saved bindings on its next reconcile.
type Trigger struct {
	persistence persistence.Persistence
	validate    *validator.Validate
}

func NewTrigger(persistence persistence.Persistence, validate *validator.Validate) *Trigger {
	return &Trigger{
		persistence: persistence,
		validate:    validate,
	}
}

// SaveTemplate creates or replaces a trigger template.
func (t *Trigger) SaveTemplate(ctx context.Context, template *models.TriggerTemplate) (*models.TriggerTemplate, error) {
	err := t.validate.Struct(template)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	err = t.persistence.TriggerRepository().SaveTemplate(ctx, template)
	if err != nil {
		return nil, fmt.Errorf("failed to save trigger template: %w", err)
	}

	return template, nil
}

func (t *Trigger) FetchTemplate(ctx context.Context, id string) (*models.TriggerTemplate, error) {
	return t.persistence.TriggerRepository().GetTemplate(ctx, id)
}

// Create validates and stores a new binding. The tenant defaults to the
// workflow's and the type to the template's.
func (t *Trigger) Create(ctx context.Context, binding *models.WorkflowTrigger) (*models.WorkflowTrigger, error) {
	workflow, err := t.persistence.WorkflowRepository().GetByID(ctx, binding.WorkflowID)
	if err != nil {
		return nil, err
	}

	if binding.TenantID == "" {
		binding.TenantID = workflow.TenantID
	}

	if binding.TenantID != workflow.TenantID {
		return nil, fmt.Errorf("%w: workflow %s belongs to %s", ErrTenantMismatch, workflow.ID, workflow.TenantID)
	}

	var template *models.TriggerTemplate

	if binding.TemplateID != "" {
		template, err = t.persistence.TriggerRepository().GetTemplate(ctx, binding.TemplateID)
		if err != nil {
			return nil, err
		}

		if binding.Type == "" {
			binding.Type = template.Type
		}
	}

	if binding.ID == "" {
		binding.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	binding.LastTriggeredAt = nil
	binding.TriggerCount = 0
	binding.ErrorCount = 0
	binding.CreatedAt = now
	binding.UpdatedAt = now

	err = trigger.ValidateTrigger(t.validate, binding, template)
	if err != nil {
		return nil, err
	}

	err = t.persistence.TriggerRepository().SaveTrigger(ctx, binding)
	if err != nil {
		return nil, fmt.Errorf("failed to save trigger: %w", err)
	}

	return binding, nil
}

func (t *Trigger) FetchByID(ctx context.Context, id string) (*models.WorkflowTrigger, error) {
	return t.persistence.TriggerRepository().GetTrigger(ctx, id)
}

// SetActive switches a binding on or off. Counters are preserved.
func (t *Trigger) SetActive(ctx context.Context, id string, active bool) (*models.WorkflowTrigger, error) {
	binding, err := t.persistence.TriggerRepository().GetTrigger(ctx, id)
	if err != nil {
		return nil, err
	}

	if binding.Active == active {
		return binding, nil
	}

	binding.Active = active
	binding.UpdatedAt = time.Now().UTC()

	err = t.persistence.TriggerRepository().SaveTrigger(ctx, binding)
	if err != nil {
		return nil, fmt.Errorf("failed to save trigger: %w", err)
	}

	return binding, nil
}

// Events lists the firing records of a trigger.
func (t *Trigger) Events(ctx context.Context, id string) ([]*models.TriggerEvent, error) {
	_, err := t.persistence.TriggerRepository().GetTrigger(ctx, id)
	if err != nil {
		return nil, err
	}

	return t.persistence.TriggerRepository().ListEvents(ctx, id)
}
