package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
)

// TriggerRepository handles trigger templates, workflow triggers and trigger events.
type TriggerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTriggerRepository(db *sql.DB, logger *slog.Logger) *TriggerRepository {
	return &TriggerRepository{db: db, logger: logger}
}

func (r *TriggerRepository) SaveTemplate(ctx context.Context, template *models.TriggerTemplate) error {
	data, err := json.Marshal(template)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger template: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO trigger_templates (id, type, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET type = EXCLUDED.type, data = EXCLUDED.data
	`, template.ID, template.Type, data)
	if err != nil {
		return fmt.Errorf("failed to save trigger template: %w", err)
	}

	return nil
}

func (r *TriggerRepository) GetTemplate(ctx context.Context, id string) (*models.TriggerTemplate, error) {
	row := r.db.QueryRowContext(ctx, `SELECT data FROM trigger_templates WHERE id = $1`, id)

	template, err := scanJSON[models.TriggerTemplate](row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEntityError("GetTemplate", "template", id, persistence.ErrTemplateNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to scan trigger template: %w", err)
	}

	return template, nil
}

func (r *TriggerRepository) SaveTrigger(ctx context.Context, trigger *models.WorkflowTrigger) error {
	data, err := json.Marshal(trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_triggers (id, tenant_id, workflow_id, active, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id
		  , workflow_id = EXCLUDED.workflow_id
		  , active = EXCLUDED.active
		  , data = EXCLUDED.data
	`, trigger.ID, trigger.TenantID, trigger.WorkflowID, trigger.Active, data)
	if err != nil {
		return fmt.Errorf("failed to save trigger: %w", err)
	}

	return nil
}

func (r *TriggerRepository) GetTrigger(ctx context.Context, id string) (*models.WorkflowTrigger, error) {
	row := r.db.QueryRowContext(ctx, `SELECT data FROM workflow_triggers WHERE id = $1`, id)

	trigger, err := scanJSON[models.WorkflowTrigger](row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEntityError("GetTrigger", "trigger", id, persistence.ErrTriggerNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to scan trigger: %w", err)
	}

	return trigger, nil
}

func (r *TriggerRepository) ListActiveTriggers(ctx context.Context) ([]*models.WorkflowTrigger, error) {
	return queryJSON[models.WorkflowTrigger](ctx, r.db, r.logger, `
		SELECT t.data
		FROM workflow_triggers t
		JOIN workflows w ON w.id = t.workflow_id
		WHERE t.active AND w.status = 'published'
		ORDER BY t.id
	`)
}

func (r *TriggerRepository) SaveEvent(ctx context.Context, event *models.TriggerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger event: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO trigger_events (id, trigger_id, occurred_at, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data
	`, event.ID, event.TriggerID, event.Timestamp, data)
	if err != nil {
		return fmt.Errorf("failed to save trigger event: %w", err)
	}

	return nil
}

func (r *TriggerRepository) ListEvents(ctx context.Context, triggerID string) ([]*models.TriggerEvent, error) {
	return queryJSON[models.TriggerEvent](ctx, r.db, r.logger, `
		SELECT data
		FROM trigger_events
		WHERE trigger_id = $1
		ORDER BY occurred_at, id
	`, triggerID)
}
