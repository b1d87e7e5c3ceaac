// Package persistencetest holds the behaviour every persistence implementation must share.
package persistencetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) persistence.Persistence

// Run executes the shared repository checks against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("workflows", func(t *testing.T) { testWorkflows(t, newStore(t)) })
	t.Run("executions and steps", func(t *testing.T) { testExecutions(t, newStore(t)) })
	t.Run("rollback records", func(t *testing.T) { testRollbacks(t, newStore(t)) })
	t.Run("triggers", func(t *testing.T) { testTriggers(t, newStore(t)) })
	t.Run("change feed", func(t *testing.T) { testChangeFeed(t, newStore(t)) })
}

// Workflow builds a small published definition for tenant.
func Workflow(id, tenantID string) *models.WorkflowDefinition {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	return &models.WorkflowDefinition{
		ID:       id,
		TenantID: tenantID,
		Name:     "Expense approval",
		Version:  1,
		Status:   models.WorkflowStatusPublished,
		Steps: []*models.WorkflowStep{
			{ID: "capture", Type: models.StepTypeCapture, Name: "Capture", NextSteps: []models.NextStep{{StepID: "notify"}}},
			{ID: "notify", Type: models.StepTypeUpdate, Name: "Notify", Config: map[string]any{"updates": map[string]any{"sent": true}}},
		},
		Settings:  models.WorkflowSettings{ErrorHandling: models.ErrorHandlingStop, SLAMinutes: 60},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testWorkflows(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	repo := store.WorkflowRepository()

	require.NoError(t, repo.Save(ctx, Workflow("wf-1", "acme")))
	require.NoError(t, repo.Save(ctx, Workflow("wf-2", "globex")))

	loaded, err := repo.GetByID(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "acme", loaded.TenantID)
	assert.Len(t, loaded.Steps, 2)
	assert.Equal(t, "notify", loaded.Steps[0].NextSteps[0].StepID)
	assert.Equal(t, 60, loaded.Settings.SLAMinutes)

	all, err := repo.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	acme, err := repo.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, acme, 1)
	assert.Equal(t, "wf-1", acme[0].ID)

	_, err = repo.GetByID(ctx, "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	require.NoError(t, repo.Delete(ctx, "wf-2"))
	_, err = repo.GetByID(ctx, "wf-2")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func execution(id, tenantID string, status models.ExecutionStatus) *models.WorkflowExecution {
	return &models.WorkflowExecution{
		ID:              id,
		TenantID:        tenantID,
		WorkflowID:      "wf-1",
		WorkflowVersion: 1,
		Status:          status,
		CurrentSteps:    []string{"capture"},
		Context: models.ExecutionContext{
			Initiator: models.Initiator{Type: models.InitiatorAPI, ID: "cli"},
			Data:      map[string]any{"amount": 800.0},
		},
		StartedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Revision:  1,
	}
}

func testExecutions(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	require.NoError(t, store.WorkflowRepository().Save(ctx, Workflow("wf-1", "acme")))

	repo := store.ExecutionRepository()

	require.NoError(t, repo.SaveExecution(ctx, execution("exec-1", "acme", models.ExecutionStatusRunning)))
	require.NoError(t, repo.SaveExecution(ctx, execution("exec-2", "acme", models.ExecutionStatusPaused)))

	loaded, err := repo.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, loaded.Status)
	assert.Equal(t, []string{"capture"}, loaded.CurrentSteps)
	assert.Equal(t, 800.0, loaded.Context.Data["amount"])
	assert.Equal(t, int64(1), loaded.Revision)

	completedAt := loaded.StartedAt.Add(time.Minute)
	loaded.Status = models.ExecutionStatusFailed
	loaded.CompletedAt = &completedAt
	loaded.Error = models.NewWorkflowError(models.ErrorTypeSystem, "boom", nil)
	loaded.Revision = 2
	require.NoError(t, repo.SaveExecution(ctx, loaded))

	reloaded, err := repo.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, reloaded.Status)
	require.NotNil(t, reloaded.Error)
	assert.Equal(t, models.ErrorTypeSystem, reloaded.Error.Type)
	assert.True(t, completedAt.Equal(*reloaded.CompletedAt))

	paused, err := repo.ListExecutions(ctx, persistence.ExecutionFilter{Status: models.ExecutionStatusPaused})
	require.NoError(t, err)
	require.Len(t, paused, 1)
	assert.Equal(t, "exec-2", paused[0].ID)

	_, err = repo.GetExecution(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))

	step := &models.StepExecution{
		ID:          "step-1",
		ExecutionID: "exec-1",
		TenantID:    "acme",
		StepID:      "capture",
		StepName:    "Capture",
		StepType:    models.StepTypeCapture,
		Status:      models.StepStatusInProgress,
		Attempt:     1,
		StartedAt:   time.Date(2025, 1, 2, 3, 4, 6, 0, time.UTC),
		Revision:    1,
	}
	require.NoError(t, repo.SaveStep(ctx, step))

	step.Status = models.StepStatusPending
	step.Output = map[string]any{models.RetryAttemptKey: 1.0}
	step.Revision = 2
	require.NoError(t, repo.SaveStep(ctx, step))

	steps, err := repo.ListSteps(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, steps, 1, "a retried step keeps a single row")
	assert.Equal(t, models.StepStatusPending, steps[0].Status)
	assert.Equal(t, 1, steps[0].RetryAttempt())

	loadedStep, err := repo.GetStep(ctx, "exec-1", "capture")
	require.NoError(t, err)
	assert.Equal(t, int64(2), loadedStep.Revision)

	_, err = repo.GetStep(ctx, "exec-1", "missing")
	assert.True(t, persistence.IsStepExecutionNotFound(err))
}

func testRollbacks(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	require.NoError(t, store.WorkflowRepository().Save(ctx, Workflow("wf-1", "acme")))

	repo := store.ExecutionRepository()
	require.NoError(t, repo.SaveExecution(ctx, execution("exec-1", "acme", models.ExecutionStatusFailed)))

	for i, stepID := range []string{"notify", "capture"} {
		require.NoError(t, repo.SaveRollbackRecord(ctx, &models.RollbackRecord{
			ID:          "rb-" + stepID,
			ExecutionID: "exec-1",
			StepID:      stepID,
			StepType:    models.StepTypeUpdate,
			Status:      models.RollbackStatusPending,
			CreatedAt:   time.Date(2025, 1, 2, 3, 4, 5+i, 0, time.UTC),
		}))
	}

	records, err := repo.ListRollbackRecords(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "notify", records[0].StepID)
	assert.Equal(t, "capture", records[1].StepID)
}

func testTriggers(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()

	draft := Workflow("wf-draft", "acme")
	draft.Status = models.WorkflowStatusDraft

	require.NoError(t, store.WorkflowRepository().Save(ctx, Workflow("wf-1", "acme")))
	require.NoError(t, store.WorkflowRepository().Save(ctx, draft))

	repo := store.TriggerRepository()

	require.NoError(t, repo.SaveTemplate(ctx, &models.TriggerTemplate{
		ID: "tpl-webhook", Type: models.TriggerTypeWebhook, Name: "Webhook",
	}))

	template, err := repo.GetTemplate(ctx, "tpl-webhook")
	require.NoError(t, err)
	assert.Equal(t, models.TriggerTypeWebhook, template.Type)

	_, err = repo.GetTemplate(ctx, "missing")
	assert.True(t, persistence.IsTemplateNotFound(err))

	triggers := []*models.WorkflowTrigger{
		{ID: "trg-active", TenantID: "acme", WorkflowID: "wf-1", Type: models.TriggerTypeWebhook, Name: "a", Active: true},
		{ID: "trg-inactive", TenantID: "acme", WorkflowID: "wf-1", Type: models.TriggerTypeWebhook, Name: "b"},
		{ID: "trg-draft", TenantID: "acme", WorkflowID: "wf-draft", Type: models.TriggerTypeWebhook, Name: "c", Active: true},
	}
	for _, trigger := range triggers {
		require.NoError(t, repo.SaveTrigger(ctx, trigger))
	}

	active, err := repo.ListActiveTriggers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "trg-active", active[0].ID)

	triggers[0].TriggerCount = 3
	require.NoError(t, repo.SaveTrigger(ctx, triggers[0]))

	loaded, err := repo.GetTrigger(ctx, "trg-active")
	require.NoError(t, err)
	assert.Equal(t, int64(3), loaded.TriggerCount)

	_, err = repo.GetTrigger(ctx, "missing")
	assert.True(t, persistence.IsTriggerNotFound(err))

	event := &models.TriggerEvent{
		ID: "evt-1", TriggerID: "trg-active", TenantID: "acme", EventType: "webhook_received",
		EventData: map[string]any{"id": "42"}, Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, repo.SaveEvent(ctx, event))

	event.Processed = true
	event.WorkflowInstanceID = "exec-9"
	require.NoError(t, repo.SaveEvent(ctx, event))

	events, err := repo.ListEvents(ctx, "trg-active")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Processed)
	assert.Equal(t, "exec-9", events[0].WorkflowInstanceID)
}

func testChangeFeed(t *testing.T, store persistence.Persistence) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, store.WorkflowRepository().Save(ctx, Workflow("wf-1", "acme")))

	var (
		mu      sync.Mutex
		changes []persistence.Change
	)

	sub, err := store.Subscribe(ctx, "acme", func(_ context.Context, change persistence.Change) {
		mu.Lock()
		defer mu.Unlock()

		changes = append(changes, change)
	})
	require.NoError(t, err)

	defer sub.Unsubscribe()

	repo := store.ExecutionRepository()
	running := execution("exec-feed", "acme", models.ExecutionStatusRunning)
	require.NoError(t, repo.SaveExecution(ctx, running))
	require.NoError(t, repo.SaveExecution(ctx, execution("exec-other", "globex", models.ExecutionStatusRunning)))
	require.NoError(t, repo.SaveStep(ctx, &models.StepExecution{
		ID: "s-1", ExecutionID: "exec-feed", TenantID: "acme", StepID: "capture",
		StepType: models.StepTypeCapture, Status: models.StepStatusInProgress, Revision: 1,
	}))

	running.Status = models.ExecutionStatusCompleted
	running.Revision = 2
	require.NoError(t, repo.SaveExecution(ctx, running))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(changes) >= 3
	}, 10*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, changes, 3)

	byTable := map[string][]persistence.Change{}
	for _, change := range changes {
		assert.Equal(t, "acme", change.TenantID)
		byTable[change.Table] = append(byTable[change.Table], change)
	}

	require.Len(t, byTable[persistence.TableExecutions], 2)
	assert.Equal(t, persistence.ChangeInsert, byTable[persistence.TableExecutions][0].Kind)
	assert.Equal(t, persistence.ChangeUpdate, byTable[persistence.TableExecutions][1].Kind)
	assert.Equal(t, models.ExecutionStatusCompleted, byTable[persistence.TableExecutions][1].Execution.Status)

	require.Len(t, byTable[persistence.TableStepExecutions], 1)
	assert.Equal(t, "capture", byTable[persistence.TableStepExecutions][0].Step.StepID)
}
