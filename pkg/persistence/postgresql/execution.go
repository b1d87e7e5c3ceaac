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

// ExecutionRepository handles execution, step and rollback rows.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	query := `
		INSERT INTO executions (id, tenant_id, workflow_id, status, revision, started_at, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status
		  , revision = EXCLUDED.revision
		  , data = EXCLUDED.data
		  , updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID, execution.TenantID, execution.WorkflowID, execution.Status,
		execution.Revision, execution.StartedAt, data)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetExecution(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT data FROM executions WHERE id = $1`, id)

	execution, err := scanJSON[models.WorkflowExecution](row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEntityError("GetExecution", "execution", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListExecutions(ctx context.Context, filter persistence.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	return queryJSON[models.WorkflowExecution](ctx, r.db, r.logger, `
		SELECT data
		FROM executions
		WHERE ($1 = '' OR tenant_id = $1)
		  AND ($2 = '' OR workflow_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY started_at, id
	`, filter.TenantID, filter.WorkflowID, string(filter.Status))
}

func (r *ExecutionRepository) SaveStep(ctx context.Context, step *models.StepExecution) error {
	data, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("failed to marshal step execution: %w", err)
	}

	var startedAt sql.NullTime
	if !step.StartedAt.IsZero() {
		startedAt = sql.NullTime{Time: step.StartedAt, Valid: true}
	}

	query := `
		INSERT INTO step_executions (execution_id, step_id, tenant_id, status, revision, started_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (execution_id, step_id) DO UPDATE SET
			status = EXCLUDED.status
		  , revision = EXCLUDED.revision
		  , started_at = EXCLUDED.started_at
		  , data = EXCLUDED.data
	`

	_, err = r.db.ExecContext(ctx, query,
		step.ExecutionID, step.StepID, step.TenantID, step.Status, step.Revision, startedAt, data)
	if err != nil {
		return fmt.Errorf("failed to save step %s of execution %s: %w", step.StepID, step.ExecutionID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetStep(ctx context.Context, executionID, stepID string) (*models.StepExecution, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT data FROM step_executions WHERE execution_id = $1 AND step_id = $2`, executionID, stepID)

	step, err := scanJSON[models.StepExecution](row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewEntityError("GetStep", "step", executionID+"/"+stepID, persistence.ErrStepExecutionNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to scan step execution: %w", err)
	}

	return step, nil
}

func (r *ExecutionRepository) ListSteps(ctx context.Context, executionID string) ([]*models.StepExecution, error) {
	steps, err := queryJSON[models.StepExecution](ctx, r.db, r.logger,
		`SELECT data FROM step_executions WHERE execution_id = $1`, executionID)
	if err != nil {
		return nil, err
	}

	persistence.SortSteps(steps)

	return steps, nil
}

func (r *ExecutionRepository) SaveRollbackRecord(ctx context.Context, record *models.RollbackRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal rollback record: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO rollback_records (id, execution_id, created_at, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data
	`, record.ID, record.ExecutionID, record.CreatedAt, data)
	if err != nil {
		return fmt.Errorf("failed to save rollback record: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) ListRollbackRecords(ctx context.Context, executionID string) ([]*models.RollbackRecord, error) {
	return queryJSON[models.RollbackRecord](ctx, r.db, r.logger, `
		SELECT data
		FROM rollback_records
		WHERE execution_id = $1
		ORDER BY created_at, id
	`, executionID)
}
