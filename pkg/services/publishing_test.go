package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence/file"
)

func setupPublishing(t *testing.T) (*Workflow, *Publishing) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())

	return NewWorkflow(store, newValidator()), NewPublishing(store, newValidator())
}

func TestPublishing_PublishWorkflow_Success(t *testing.T) {
	workflows, publishing := setupPublishing(t)

	created, err := workflows.Create(t.Context(), draftDefinition())
	require.NoError(t, err)

	published, err := publishing.PublishWorkflow(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)

	stored, err := workflows.FetchByID(t.Context(), created.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsPublished())

	again, err := publishing.PublishWorkflow(t.Context(), created.ID)
	require.NoError(t, err)
	assert.True(t, published.PublishedAt.Equal(*again.PublishedAt), "publishing twice keeps the first publication")
}

func TestPublishing_PublishWorkflow_ValidationError(t *testing.T) {
	workflows, publishing := setupPublishing(t)

	empty := draftDefinition()
	empty.Steps = nil

	created, err := workflows.Create(t.Context(), empty)
	require.NoError(t, err)

	_, err = publishing.PublishWorkflow(t.Context(), created.ID)
	require.ErrorIs(t, err, models.ErrInvalidDefinition)

	_, err = publishing.PublishWorkflow(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestPublishing_ArchiveWorkflow(t *testing.T) {
	workflows, publishing := setupPublishing(t)

	created, err := workflows.Create(t.Context(), draftDefinition())
	require.NoError(t, err)

	_, err = publishing.PublishWorkflow(t.Context(), created.ID)
	require.NoError(t, err)

	archived, err := publishing.ArchiveWorkflow(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusArchived, archived.Status)

	_, err = publishing.PublishWorkflow(t.Context(), created.ID)
	require.ErrorIs(t, err, ErrWorkflowArchived)
	assert.True(t, IsConflictError(err))

	_, err = workflows.Update(t.Context(), created.ID, draftDefinition())
	require.ErrorIs(t, err, ErrWorkflowArchived)
}

func TestPublishing_CreateDraftFromPublished(t *testing.T) {
	workflows, publishing := setupPublishing(t)

	created, err := workflows.Create(t.Context(), draftDefinition())
	require.NoError(t, err)

	_, err = publishing.CreateDraftFromPublished(t.Context(), created.ID)
	require.ErrorIs(t, err, ErrNotPublished)

	published, err := publishing.PublishWorkflow(t.Context(), created.ID)
	require.NoError(t, err)

	draft, err := publishing.CreateDraftFromPublished(t.Context(), created.ID)
	require.NoError(t, err)
	assert.NotEqual(t, published.ID, draft.ID)
	assert.Equal(t, models.WorkflowStatusDraft, draft.Status)
	assert.Equal(t, published.Version+1, draft.Version)
	assert.Nil(t, draft.PublishedAt)
	assert.Equal(t, published.Steps, draft.Steps)

	draft.Steps[0].Name = "Changed"

	_, err = workflows.Update(t.Context(), draft.ID, draft)
	require.NoError(t, err)

	original, err := workflows.FetchByID(t.Context(), published.ID)
	require.NoError(t, err)
	assert.Equal(t, "Capture", original.Steps[0].Name)
}
