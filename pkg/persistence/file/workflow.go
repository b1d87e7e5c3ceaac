package file

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	fp *Persistence
}

func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.WorkflowDefinition) error {
	path, err := wr.fp.docPath(workflowsDir, workflow.ID)
	if err != nil {
		return persistence.NewEntityError("Save", "workflow", workflow.ID, err)
	}

	wr.fp.mu.Lock()
	defer wr.fp.mu.Unlock()

	return writeJSON(path, workflow)
}

func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	path, err := wr.fp.docPath(workflowsDir, id)
	if err != nil {
		return nil, persistence.NewEntityError("GetByID", "workflow", id, err)
	}

	wr.fp.mu.RLock()
	defer wr.fp.mu.RUnlock()

	var workflow models.WorkflowDefinition

	err = readJSON(path, &workflow)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewEntityError("GetByID", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", id, err)
	}

	return &workflow, nil
}

func (wr *WorkflowRepository) List(_ context.Context, tenantID string) ([]*models.WorkflowDefinition, error) {
	wr.fp.mu.RLock()
	defer wr.fp.mu.RUnlock()

	all, err := readAll[models.WorkflowDefinition](filepath.Join(wr.fp.root, workflowsDir))
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.WorkflowDefinition, 0, len(all))

	for _, workflow := range all {
		if tenantID == "" || workflow.TenantID == tenantID {
			workflows = append(workflows, workflow)
		}
	}

	slices.SortFunc(workflows, func(a, b *models.WorkflowDefinition) int { return cmp.Compare(a.ID, b.ID) })

	return workflows, nil
}

func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	path, err := wr.fp.docPath(workflowsDir, id)
	if err != nil {
		return persistence.NewEntityError("Delete", "workflow", id, err)
	}

	wr.fp.mu.Lock()
	defer wr.fp.mu.Unlock()

	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return persistence.NewEntityError("Delete", "workflow", id, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}
