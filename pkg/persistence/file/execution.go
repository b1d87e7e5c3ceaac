package file

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
)

// ExecutionRepository stores executions, their step rows and rollback records.
type ExecutionRepository struct {
	fp *Persistence
}

func (er *ExecutionRepository) SaveExecution(ctx context.Context, execution *models.WorkflowExecution) error {
	path, err := er.fp.docPath(executionsDir, execution.ID)
	if err != nil {
		return persistence.NewEntityError("SaveExecution", "execution", execution.ID, err)
	}

	er.fp.mu.Lock()
	existed := exists(path)
	err = writeJSON(path, execution)
	er.fp.mu.Unlock()

	if err != nil {
		return err
	}

	er.fp.broadcaster.Publish(ctx, persistence.Change{
		Table:     persistence.TableExecutions,
		Kind:      changeKind(existed),
		TenantID:  execution.TenantID,
		Execution: execution.Clone(),
	})

	return nil
}

func (er *ExecutionRepository) GetExecution(_ context.Context, id string) (*models.WorkflowExecution, error) {
	path, err := er.fp.docPath(executionsDir, id)
	if err != nil {
		return nil, persistence.NewEntityError("GetExecution", "execution", id, err)
	}

	er.fp.mu.RLock()
	defer er.fp.mu.RUnlock()

	var execution models.WorkflowExecution

	err = readJSON(path, &execution)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewEntityError("GetExecution", "execution", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read execution %s: %w", id, err)
	}

	return &execution, nil
}

func (er *ExecutionRepository) ListExecutions(_ context.Context, filter persistence.ExecutionFilter) ([]*models.WorkflowExecution, error) {
	er.fp.mu.RLock()
	defer er.fp.mu.RUnlock()

	all, err := readAll[models.WorkflowExecution](filepath.Join(er.fp.root, executionsDir))
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0, len(all))

	for _, execution := range all {
		if filter.Matches(execution) {
			executions = append(executions, execution)
		}
	}

	slices.SortFunc(executions, func(a, b *models.WorkflowExecution) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.ID, b.ID))
	})

	return executions, nil
}

func (er *ExecutionRepository) SaveStep(ctx context.Context, step *models.StepExecution) error {
	path, err := er.fp.docPath(stepsDir, step.ExecutionID, step.StepID)
	if err != nil {
		return persistence.NewEntityError("SaveStep", "step", step.ExecutionID+"/"+step.StepID, err)
	}

	er.fp.mu.Lock()
	existed := exists(path)
	err = writeJSON(path, step)
	er.fp.mu.Unlock()

	if err != nil {
		return err
	}

	er.fp.broadcaster.Publish(ctx, persistence.Change{
		Table:    persistence.TableStepExecutions,
		Kind:     changeKind(existed),
		TenantID: step.TenantID,
		Step:     step.Clone(),
	})

	return nil
}

func (er *ExecutionRepository) GetStep(_ context.Context, executionID, stepID string) (*models.StepExecution, error) {
	path, err := er.fp.docPath(stepsDir, executionID, stepID)
	if err != nil {
		return nil, persistence.NewEntityError("GetStep", "step", executionID+"/"+stepID, err)
	}

	er.fp.mu.RLock()
	defer er.fp.mu.RUnlock()

	var step models.StepExecution

	err = readJSON(path, &step)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewEntityError("GetStep", "step", executionID+"/"+stepID, persistence.ErrStepExecutionNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read step %s/%s: %w", executionID, stepID, err)
	}

	return &step, nil
}

func (er *ExecutionRepository) ListSteps(_ context.Context, executionID string) ([]*models.StepExecution, error) {
	dir, err := er.fp.dirPath(stepsDir, executionID)
	if err != nil {
		return nil, persistence.NewEntityError("ListSteps", "execution", executionID, err)
	}

	er.fp.mu.RLock()
	defer er.fp.mu.RUnlock()

	steps, err := readAll[models.StepExecution](dir)
	if err != nil {
		return nil, err
	}

	persistence.SortSteps(steps)

	return steps, nil
}

func (er *ExecutionRepository) SaveRollbackRecord(_ context.Context, record *models.RollbackRecord) error {
	path, err := er.fp.docPath(rollbacksDir, record.ExecutionID, record.ID)
	if err != nil {
		return persistence.NewEntityError("SaveRollbackRecord", "rollback", record.ID, err)
	}

	er.fp.mu.Lock()
	defer er.fp.mu.Unlock()

	return writeJSON(path, record)
}

func (er *ExecutionRepository) ListRollbackRecords(_ context.Context, executionID string) ([]*models.RollbackRecord, error) {
	dir, err := er.fp.dirPath(rollbacksDir, executionID)
	if err != nil {
		return nil, persistence.NewEntityError("ListRollbackRecords", "execution", executionID, err)
	}

	er.fp.mu.RLock()
	defer er.fp.mu.RUnlock()

	records, err := readAll[models.RollbackRecord](dir)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(records, func(a, b *models.RollbackRecord) int { return a.CreatedAt.Compare(b.CreatedAt) })

	return records, nil
}

func changeKind(existed bool) persistence.ChangeKind {
	if existed {
		return persistence.ChangeUpdate
	}

	return persistence.ChangeInsert
}
