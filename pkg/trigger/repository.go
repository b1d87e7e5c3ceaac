package trigger

import (
	"context"
	"fmt"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
)

// Repository reads the trigger bindings the monitor service reconciles against.
type Repository struct {
	triggers persistence.TriggerRepository
}

func NewRepository(triggers persistence.TriggerRepository) *Repository {
	return &Repository{
		triggers: triggers,
	}
}

// FetchActiveByTenant returns the active triggers of published workflows grouped by tenant.
func (r *Repository) FetchActiveByTenant(ctx context.Context) (map[string][]*models.WorkflowTrigger, error) {
	triggers, err := r.triggers.ListActiveTriggers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active triggers: %w", err)
	}

	byTenant := make(map[string][]*models.WorkflowTrigger)
	for _, trigger := range triggers {
		byTenant[trigger.TenantID] = append(byTenant[trigger.TenantID], trigger)
	}

	return byTenant, nil
}

// Template loads the template a trigger was created from. Triggers without a
// template id, or whose template was removed, get nil.
func (r *Repository) Template(ctx context.Context, trigger *models.WorkflowTrigger) (*models.TriggerTemplate, error) {
	if trigger.TemplateID == "" {
		return nil, nil
	}

	template, err := r.triggers.GetTemplate(ctx, trigger.TemplateID)
	if persistence.IsTemplateNotFound(err) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", trigger.TemplateID, err)
	}

	return template, nil
}
