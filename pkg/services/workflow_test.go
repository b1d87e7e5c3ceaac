package services

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence/file"
	"github.com/vincentsider/bolt.new-sub002/pkg/trigger"
)

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func draftDefinition() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		TenantID: "acme",
		Name:     "Expense approval",
		Steps: []*models.WorkflowStep{
			{
				ID: "capture", Type: models.StepTypeCapture, Name: "Capture",
				NextSteps: []models.NextStep{{StepID: "approve"}},
			},
			{ID: "approve", Type: models.StepTypeApprove, Name: "Approve"},
		},
	}
}

func TestNewWorkflow(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewWorkflow(store, newValidator())

	assert.NotNil(t, service)
	assert.Equal(t, store, service.persistence)
}

func TestWorkflow_Create(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewWorkflow(store, newValidator())

	workflow := draftDefinition()
	workflow.Status = models.WorkflowStatusPublished

	created, err := service.Create(t.Context(), workflow)
	require.NoError(t, err)
	require.NotNil(t, created)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)
	assert.False(t, created.CreatedAt.IsZero())
	assert.False(t, created.UpdatedAt.IsZero())

	// creation always yields a draft
	assert.Equal(t, models.WorkflowStatusDraft, created.Status)

	stored, err := service.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, stored.ID)
	assert.Len(t, stored.Steps, 2)
}

func TestWorkflow_Create_InvalidDefinition(t *testing.T) {
	service := NewWorkflow(file.NewPersistence(t.TempDir()), newValidator())

	workflow := draftDefinition()
	workflow.Steps[0].NextSteps = []models.NextStep{{StepID: "missing"}}

	_, err := service.Create(t.Context(), workflow)
	require.Error(t, err)
	require.ErrorIs(t, err, models.ErrInvalidDefinition)
	assert.True(t, IsValidationError(err))
}

func TestWorkflow_FetchByID_NotFound(t *testing.T) {
	service := NewWorkflow(file.NewPersistence(t.TempDir()), newValidator())

	_, err := service.FetchByID(t.Context(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestWorkflow_ListWorkflows(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewWorkflow(store, newValidator())
	publishing := NewPublishing(store, newValidator())

	first, err := service.Create(t.Context(), draftDefinition())
	require.NoError(t, err)

	second, err := service.Create(t.Context(), draftDefinition())
	require.NoError(t, err)

	other := draftDefinition()
	other.TenantID = "globex"

	_, err = service.Create(t.Context(), other)
	require.NoError(t, err)

	_, err = publishing.PublishWorkflow(t.Context(), first.ID)
	require.NoError(t, err)

	all, err := service.ListWorkflows(t.Context(), ListWorkflowsRequest{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	acme, err := service.ListWorkflows(t.Context(), ListWorkflowsRequest{TenantID: "acme"})
	require.NoError(t, err)
	require.Len(t, acme, 2)
	assert.Equal(t, first.ID, acme[0].ID, "most recently updated first")

	drafts, err := service.ListWorkflows(t.Context(), ListWorkflowsRequest{TenantID: "acme", Status: models.WorkflowStatusDraft})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, second.ID, drafts[0].ID)

	_, err = service.ListWorkflows(t.Context(), ListWorkflowsRequest{Status: "deleted"})
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestWorkflow_Update(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewWorkflow(store, newValidator())

	created, err := service.Create(t.Context(), draftDefinition())
	require.NoError(t, err)

	changes := draftDefinition()
	changes.Name = "Travel approval"
	changes.TenantID = "globex"
	changes.Steps = changes.Steps[1:]

	updated, err := service.Update(t.Context(), created.ID, changes)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "acme", updated.TenantID, "tenant is immutable")
	assert.Equal(t, "Travel approval", updated.Name)
	assert.Len(t, updated.Steps, 1)

	_, err = NewPublishing(store, newValidator()).PublishWorkflow(t.Context(), created.ID)
	require.NoError(t, err)

	_, err = service.Update(t.Context(), created.ID, draftDefinition())
	require.ErrorIs(t, err, ErrCannotModifyPublished)
	assert.True(t, IsConflictError(err))
}

func TestWorkflow_Delete(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	service := NewWorkflow(store, newValidator())
	publishing := NewPublishing(store, newValidator())

	created, err := service.Create(t.Context(), draftDefinition())
	require.NoError(t, err)

	_, err = publishing.PublishWorkflow(t.Context(), created.ID)
	require.NoError(t, err)

	err = service.Delete(t.Context(), created.ID)
	require.ErrorIs(t, err, ErrCannotModifyPublished)

	_, err = publishing.ArchiveWorkflow(t.Context(), created.ID)
	require.NoError(t, err)

	require.NoError(t, service.Delete(t.Context(), created.ID))

	_, err = service.FetchByID(t.Context(), created.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	err = service.Delete(t.Context(), "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestIsValidationError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"invalid request", ErrInvalidRequest, true},
		{"invalid definition", models.ErrInvalidDefinition, true},
		{"invalid trigger config", trigger.ErrInvalidConfig, true},
		{"wrapped tenant mismatch", NewValidationError("Create", "tenant_mismatch", "", ErrTenantMismatch), true},
		{"conflict", ErrCannotModifyPublished, false},
		{"not found", persistence.ErrWorkflowNotFound, false},
		{"generic", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsValidationError(tt.err))
		})
	}
}
