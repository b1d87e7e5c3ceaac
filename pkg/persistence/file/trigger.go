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

// TriggerRepository stores trigger templates, workflow triggers and their events.
type TriggerRepository struct {
	fp *Persistence
}

func (tr *TriggerRepository) SaveTemplate(_ context.Context, template *models.TriggerTemplate) error {
	path, err := tr.fp.docPath(templatesDir, template.ID)
	if err != nil {
		return persistence.NewEntityError("SaveTemplate", "template", template.ID, err)
	}

	tr.fp.mu.Lock()
	defer tr.fp.mu.Unlock()

	return writeJSON(path, template)
}

func (tr *TriggerRepository) GetTemplate(_ context.Context, id string) (*models.TriggerTemplate, error) {
	path, err := tr.fp.docPath(templatesDir, id)
	if err != nil {
		return nil, persistence.NewEntityError("GetTemplate", "template", id, err)
	}

	tr.fp.mu.RLock()
	defer tr.fp.mu.RUnlock()

	var template models.TriggerTemplate

	err = readJSON(path, &template)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewEntityError("GetTemplate", "template", id, persistence.ErrTemplateNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", id, err)
	}

	return &template, nil
}

func (tr *TriggerRepository) SaveTrigger(_ context.Context, trigger *models.WorkflowTrigger) error {
	path, err := tr.fp.docPath(triggersDir, trigger.ID)
	if err != nil {
		return persistence.NewEntityError("SaveTrigger", "trigger", trigger.ID, err)
	}

	tr.fp.mu.Lock()
	defer tr.fp.mu.Unlock()

	return writeJSON(path, trigger)
}

func (tr *TriggerRepository) GetTrigger(_ context.Context, id string) (*models.WorkflowTrigger, error) {
	path, err := tr.fp.docPath(triggersDir, id)
	if err != nil {
		return nil, persistence.NewEntityError("GetTrigger", "trigger", id, err)
	}

	tr.fp.mu.RLock()
	defer tr.fp.mu.RUnlock()

	var trigger models.WorkflowTrigger

	err = readJSON(path, &trigger)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewEntityError("GetTrigger", "trigger", id, persistence.ErrTriggerNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read trigger %s: %w", id, err)
	}

	return &trigger, nil
}

func (tr *TriggerRepository) ListActiveTriggers(_ context.Context) ([]*models.WorkflowTrigger, error) {
	tr.fp.mu.RLock()
	defer tr.fp.mu.RUnlock()

	all, err := readAll[models.WorkflowTrigger](filepath.Join(tr.fp.root, triggersDir))
	if err != nil {
		return nil, err
	}

	published := make(map[string]bool)

	workflows, err := readAll[models.WorkflowDefinition](filepath.Join(tr.fp.root, workflowsDir))
	if err != nil {
		return nil, err
	}

	for _, workflow := range workflows {
		published[workflow.ID] = workflow.IsPublished()
	}

	triggers := make([]*models.WorkflowTrigger, 0, len(all))

	for _, trigger := range all {
		if trigger.Active && published[trigger.WorkflowID] {
			triggers = append(triggers, trigger)
		}
	}

	slices.SortFunc(triggers, func(a, b *models.WorkflowTrigger) int { return cmp.Compare(a.ID, b.ID) })

	return triggers, nil
}

func (tr *TriggerRepository) SaveEvent(_ context.Context, event *models.TriggerEvent) error {
	path, err := tr.fp.docPath(triggerEventsDir, event.TriggerID, event.ID)
	if err != nil {
		return persistence.NewEntityError("SaveEvent", "trigger_event", event.ID, err)
	}

	tr.fp.mu.Lock()
	defer tr.fp.mu.Unlock()

	return writeJSON(path, event)
}

func (tr *TriggerRepository) ListEvents(_ context.Context, triggerID string) ([]*models.TriggerEvent, error) {
	dir, err := tr.fp.dirPath(triggerEventsDir, triggerID)
	if err != nil {
		return nil, persistence.NewEntityError("ListEvents", "trigger", triggerID, err)
	}

	tr.fp.mu.RLock()
	defer tr.fp.mu.RUnlock()

	events, err := readAll[models.TriggerEvent](dir)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(events, func(a, b *models.TriggerEvent) int { return a.Timestamp.Compare(b.Timestamp) })

	return events, nil
}
