package state

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence/memory"
	clocktesting "k8s.io/utils/clock/testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recorder struct {
	mu     sync.Mutex
	events []ExecutionEvent
}

func (r *recorder) listen(_ context.Context, event ExecutionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)

	return nil
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]EventType, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Type)
	}

	return out
}

func newExecution(id string, status models.ExecutionStatus, revision int64) *models.WorkflowExecution {
	return &models.WorkflowExecution{
		ID:         id,
		TenantID:   "acme",
		WorkflowID: "wf-1",
		Status:     status,
		StartedAt:  base,
		Revision:   revision,
	}
}

func newStep(executionID, stepID string, status models.StepStatus, revision int64) *models.StepExecution {
	return &models.StepExecution{
		ExecutionID: executionID,
		TenantID:    "acme",
		StepID:      stepID,
		Status:      status,
		StartedAt:   base,
		Revision:    revision,
	}
}

func TestManager_LifecycleEvents(t *testing.T) {
	ctx := context.Background()
	fakeClock := clocktesting.NewFakeClock(base)
	manager := NewManager(testLogger(), WithClock(fakeClock))

	rec := &recorder{}
	manager.Subscribe(rec.listen)

	manager.ApplyExecution(ctx, newExecution("exec-1", models.ExecutionStatusRunning, 1))
	manager.ApplyStep(ctx, newStep("exec-1", "capture", models.StepStatusPending, 1))
	manager.ApplyStep(ctx, newStep("exec-1", "capture", models.StepStatusInProgress, 2))

	done := newStep("exec-1", "capture", models.StepStatusCompleted, 3)
	completedAt := base.Add(time.Minute)
	done.CompletedAt = &completedAt
	manager.ApplyStep(ctx, done)

	assert.Len(t, manager.GetActiveExecutions(), 1)

	finished := newExecution("exec-1", models.ExecutionStatusCompleted, 2)
	finished.CompletedAt = &completedAt
	manager.ApplyExecution(ctx, finished)

	assert.Equal(t, []EventType{
		EventExecutionStarted, EventStepStarted, EventStepCompleted, EventExecutionCompleted,
	}, rec.types())

	assert.Empty(t, manager.GetActiveExecutions())

	completed := manager.GetCompletedExecutions()
	require.Len(t, completed, 1)
	assert.Equal(t, "exec-1", completed[0].ID)

	metrics, ok := manager.GetMetrics("exec-1")
	require.True(t, ok)
	assert.Equal(t, 1, metrics.CompletedSteps)
	assert.InDelta(t, 100.0, metrics.ProgressPercentage, 0.0001)

	last := rec.events[len(rec.events)-1]
	assert.Equal(t, "acme", last.TenantID)
	assert.Equal(t, base, last.Timestamp)
	require.NotNil(t, last.Metrics)
}

func TestManager_IgnoresStaleRevisions(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(testLogger())

	rec := &recorder{}
	manager.Subscribe(rec.listen)

	running := newExecution("exec-1", models.ExecutionStatusRunning, 1)
	manager.ApplyExecution(ctx, running)
	manager.ApplyExecution(ctx, running)

	paused := newExecution("exec-1", models.ExecutionStatusPaused, 2)
	manager.ApplyExecution(ctx, paused)
	manager.ApplyExecution(ctx, running)
	manager.ApplyExecution(ctx, paused)

	manager.ApplyExecution(ctx, newExecution("exec-1", models.ExecutionStatusRunning, 3))

	assert.Equal(t, []EventType{EventExecutionStarted, EventExecutionPaused, EventExecutionResumed}, rec.types())

	cancelled := newExecution("exec-1", models.ExecutionStatusCancelled, 4)
	manager.ApplyExecution(ctx, cancelled)
	manager.ApplyExecution(ctx, newExecution("exec-1", models.ExecutionStatusRunning, 5))

	assert.Equal(t, EventExecutionCancelled, rec.types()[3])
	assert.Len(t, rec.types(), 4)
	assert.Empty(t, manager.GetActiveExecutions())
}

func TestManager_StepRetryAndPauseReset(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(testLogger())

	rec := &recorder{}
	manager.Subscribe(rec.listen)

	manager.ApplyStep(ctx, newStep("exec-1", "call", models.StepStatusInProgress, 1))
	manager.ApplyStep(ctx, newStep("exec-1", "call", models.StepStatusFailed, 2))

	retry := newStep("exec-1", "call", models.StepStatusPending, 3)
	retry.Output = map[string]any{models.RetryAttemptKey: 1}
	manager.ApplyStep(ctx, retry)

	inFlight := newStep("exec-1", "call", models.StepStatusInProgress, 4)
	inFlight.Output = map[string]any{models.RetryAttemptKey: 1}
	manager.ApplyStep(ctx, inFlight)

	reset := newStep("exec-1", "call", models.StepStatusPending, 5)
	reset.Output = map[string]any{models.RetryAttemptKey: 1}
	manager.ApplyStep(ctx, reset)

	assert.Equal(t, []EventType{EventStepStarted, EventStepFailed, EventStepRetry, EventStepStarted}, rec.types())

	history := manager.StepHistory("exec-1")
	require.Len(t, history, 1, "one authoritative record per step")
	assert.Equal(t, models.StepStatusPending, history[0].Status)
}

func TestManager_BrokenListenersAreIsolated(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(testLogger())

	manager.Subscribe(func(context.Context, ExecutionEvent) error {
		panic("listener bug")
	})
	manager.Subscribe(func(context.Context, ExecutionEvent) error {
		return errors.New("listener down")
	})

	rec := &recorder{}
	unsubscribe := manager.Subscribe(rec.listen)

	manager.ApplyExecution(ctx, newExecution("exec-1", models.ExecutionStatusRunning, 1))
	assert.Equal(t, []EventType{EventExecutionStarted}, rec.types())

	unsubscribe()
	manager.ApplyExecution(ctx, newExecution("exec-1", models.ExecutionStatusFailed, 2))
	assert.Len(t, rec.types(), 1)
}

func TestManager_CompletedRingEvicts(t *testing.T) {
	ctx := context.Background()
	manager := NewManager(testLogger(), WithCompletedCapacity(2))

	for _, id := range []string{"exec-1", "exec-2", "exec-3"} {
		manager.ApplyStep(ctx, newStep(id, "capture", models.StepStatusCompleted, 1))
		manager.ApplyExecution(ctx, newExecution(id, models.ExecutionStatusCompleted, 1))
	}

	completed := manager.GetCompletedExecutions()
	require.Len(t, completed, 2)
	assert.Equal(t, "exec-2", completed[0].ID)
	assert.Equal(t, "exec-3", completed[1].ID)

	_, ok := manager.GetMetrics("exec-1")
	assert.False(t, ok)
	assert.Empty(t, manager.StepHistory("exec-1"))
	assert.Len(t, manager.StepHistory("exec-3"), 1)
}

func TestManager_WatchStoreChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := memory.NewPersistence()
	manager := NewManager(testLogger())

	rec := &recorder{}
	manager.Subscribe(rec.listen)

	require.NoError(t, manager.Watch(ctx, store, "acme"))

	repo := store.ExecutionRepository()
	require.NoError(t, repo.SaveExecution(ctx, newExecution("exec-1", models.ExecutionStatusRunning, 1)))
	require.NoError(t, repo.SaveStep(ctx, newStep("exec-1", "capture", models.StepStatusInProgress, 1)))

	other := newExecution("exec-2", models.ExecutionStatusRunning, 1)
	other.TenantID = "globex"
	require.NoError(t, repo.SaveExecution(ctx, other))

	// a direct engine update with the same revision is not reported twice
	manager.ApplyExecution(ctx, newExecution("exec-1", models.ExecutionStatusRunning, 1))

	assert.Equal(t, []EventType{EventExecutionStarted, EventStepStarted}, rec.types())

	active := manager.GetActiveExecutions()
	require.Len(t, active, 1)
	assert.Equal(t, "exec-1", active[0].ID)
}
