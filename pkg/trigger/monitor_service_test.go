package trigger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vincentsider/bolt.new-sub002/pkg/mocks"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence/memory"
	clocktesting "k8s.io/utils/clock/testing"
)

type serviceFixture struct {
	service *MonitorService
	store   *memory.Persistence
	starter *mockStarter
	clock   *clocktesting.FakeClock
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	f := &serviceFixture{
		store:   memory.NewPersistence(),
		starter: &mockStarter{},
		clock:   clocktesting.NewFakeClock(monday),
	}

	f.service = NewMonitorService(testLogger(), f.store.TriggerRepository(), func(tenantID string) *Engine {
		return NewEngine(testLogger(), tenantID, f.store.TriggerRepository(), f.starter, WithClock(f.clock))
	})

	t.Cleanup(f.service.Stop)

	return f
}

func (f *serviceFixture) workflow(t *testing.T, id, tenantID string, status models.WorkflowStatus) {
	t.Helper()

	require.NoError(t, f.store.WorkflowRepository().Save(context.Background(), &models.WorkflowDefinition{
		ID:       id,
		TenantID: tenantID,
		Name:     "Workflow " + id,
		Version:  1,
		Status:   status,
	}))
}

func (f *serviceFixture) trigger(t *testing.T, id, tenantID, workflowID string, config map[string]any) *models.WorkflowTrigger {
	t.Helper()

	trigger := &models.WorkflowTrigger{
		ID:         id,
		TenantID:   tenantID,
		WorkflowID: workflowID,
		Type:       models.TriggerTypeWebhook,
		Name:       "Trigger " + id,
		Config:     config,
		Active:     true,
	}
	require.NoError(t, f.store.TriggerRepository().SaveTrigger(context.Background(), trigger))

	return trigger
}

func monitoredIDs(eng *Engine) []string {
	ids := make([]string, 0)
	for _, m := range eng.Monitored() {
		ids = append(ids, m.TriggerID)
	}

	return ids
}

func TestMonitorService_ReconcileGroupsByTenant(t *testing.T) {
	f := newServiceFixture(t)

	f.workflow(t, "wf-a", "acme", models.WorkflowStatusPublished)
	f.workflow(t, "wf-b", "globex", models.WorkflowStatusPublished)
	f.workflow(t, "wf-draft", "acme", models.WorkflowStatusDraft)

	f.trigger(t, "t-acme-1", "acme", "wf-a", nil)
	f.trigger(t, "t-acme-2", "acme", "wf-a", nil)
	f.trigger(t, "t-globex", "globex", "wf-b", nil)
	f.trigger(t, "t-draft", "acme", "wf-draft", nil)

	require.NoError(t, f.service.Reconcile(context.Background()))

	assert.Equal(t, []string{"acme", "globex"}, f.service.Engines())

	acme, ok := f.service.Engine("acme")
	require.True(t, ok)
	assert.Equal(t, []string{"t-acme-1", "t-acme-2"}, monitoredIDs(acme))

	globex, ok := f.service.Engine("globex")
	require.True(t, ok)
	assert.Equal(t, []string{"t-globex"}, monitoredIDs(globex))
}

func TestMonitorService_ReconcileStopsRemovedTriggers(t *testing.T) {
	f := newServiceFixture(t)

	f.workflow(t, "wf-a", "acme", models.WorkflowStatusPublished)
	f.workflow(t, "wf-b", "globex", models.WorkflowStatusPublished)

	f.trigger(t, "t-acme-1", "acme", "wf-a", nil)
	removed := f.trigger(t, "t-acme-2", "acme", "wf-a", nil)
	globex := f.trigger(t, "t-globex", "globex", "wf-b", nil)

	require.NoError(t, f.service.Reconcile(context.Background()))

	removed.Active = false
	require.NoError(t, f.store.TriggerRepository().SaveTrigger(context.Background(), removed))

	globex.Active = false
	require.NoError(t, f.store.TriggerRepository().SaveTrigger(context.Background(), globex))

	require.NoError(t, f.service.Reconcile(context.Background()))

	assert.Equal(t, []string{"acme"}, f.service.Engines())

	acme, ok := f.service.Engine("acme")
	require.True(t, ok)
	assert.Equal(t, []string{"t-acme-1"}, monitoredIDs(acme))
}

func TestMonitorService_TenantWithoutValidTriggersHasNoEngine(t *testing.T) {
	f := newServiceFixture(t)

	f.workflow(t, "wf-a", "acme", models.WorkflowStatusPublished)

	broken := f.trigger(t, "t-cron", "acme", "wf-a", map[string]any{"schedule_type": "custom"})
	broken.Type = models.TriggerTypeScheduled
	require.NoError(t, f.store.TriggerRepository().SaveTrigger(context.Background(), broken))

	require.NoError(t, f.service.Reconcile(context.Background()))

	assert.Empty(t, f.service.Engines())
}

func TestMonitorService_CounterUpdatesKeepMonitor(t *testing.T) {
	f := newServiceFixture(t)
	f.starter.On("Start", mock.Anything, mock.Anything).Return("exec-1", nil)

	f.workflow(t, "wf-a", "acme", models.WorkflowStatusPublished)
	trigger := f.trigger(t, "t-hook", "acme", "wf-a", nil)

	require.NoError(t, f.service.Reconcile(context.Background()))

	result := f.service.ProcessWebhook(context.Background(), WebhookRequest{TriggerID: "t-hook", Method: "POST"})
	require.True(t, result.Success, result.Message)

	f.clock.Step(time.Minute)
	require.NoError(t, f.service.Reconcile(context.Background()))

	acme, ok := f.service.Engine("acme")
	require.True(t, ok)

	monitors := acme.Monitored()
	require.Len(t, monitors, 1)
	assert.True(t, monday.Equal(monitors[0].LastCheck), "monitor was restarted")

	trigger.Config = map[string]any{"method": "PUT"}
	require.NoError(t, f.store.TriggerRepository().SaveTrigger(context.Background(), trigger))
	require.NoError(t, f.service.Reconcile(context.Background()))

	monitors = acme.Monitored()
	require.Len(t, monitors, 1)
	assert.True(t, monday.Add(time.Minute).Equal(monitors[0].LastCheck), "config change must restart the monitor")
}

func TestMonitorService_ProcessWebhookRouting(t *testing.T) {
	f := newServiceFixture(t)
	f.starter.On("Start", mock.Anything, mock.Anything).Return("exec-7", nil)

	f.workflow(t, "wf-a", "acme", models.WorkflowStatusPublished)
	f.workflow(t, "wf-b", "globex", models.WorkflowStatusPublished)
	f.trigger(t, "t-acme", "acme", "wf-a", nil)
	f.trigger(t, "t-globex", "globex", "wf-b", nil)

	require.NoError(t, f.service.Reconcile(context.Background()))

	result := f.service.ProcessWebhook(context.Background(), WebhookRequest{TriggerID: "t-globex", Method: "POST"})
	assert.True(t, result.Success)
	assert.Equal(t, "exec-7", result.ExecutionID)

	events, err := f.store.TriggerRepository().ListEvents(context.Background(), "t-globex")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "globex", events[0].TenantID)

	result = f.service.ProcessWebhook(context.Background(), WebhookRequest{TriggerID: "t-unknown", Method: "POST"})
	assert.False(t, result.Success)
	assert.Equal(t, "webhook trigger not found", result.Message)
}

func TestMonitorService_DeactivatedWebhookStopsFiring(t *testing.T) {
	f := newServiceFixture(t)
	f.starter.On("Start", mock.Anything, mock.Anything).Return("exec-1", nil)

	f.workflow(t, "wf-a", "acme", models.WorkflowStatusPublished)
	hook := f.trigger(t, "hook", "acme", "wf-a", nil)

	require.NoError(t, f.service.Reconcile(context.Background()))

	hook.Active = false
	require.NoError(t, f.store.TriggerRepository().SaveTrigger(context.Background(), hook))

	result := f.service.ProcessWebhook(context.Background(), WebhookRequest{TriggerID: "hook", Method: "POST"})
	assert.False(t, result.Success)
	assert.Equal(t, WebhookNotFound, result.Message)

	f.starter.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)

	stored, err := f.store.TriggerRepository().GetTrigger(context.Background(), "hook")
	require.NoError(t, err)
	assert.False(t, stored.Active)

	require.NoError(t, f.service.Reconcile(context.Background()))

	_, ok := f.service.Engine("acme")
	assert.False(t, ok)
}

func TestMonitorService_BacksOffFailingTenant(t *testing.T) {
	f := newServiceFixture(t)
	serviceClock := clocktesting.NewFakeClock(monday)

	built := 0
	f.service = NewMonitorService(testLogger(), f.store.TriggerRepository(), func(tenantID string) *Engine {
		built++

		// no file source, so file triggers cannot start
		return NewEngine(testLogger(), tenantID, f.store.TriggerRepository(), f.starter, WithClock(f.clock))
	}, WithReconcileInterval(time.Minute), WithServiceClock(serviceClock))
	t.Cleanup(f.service.Stop)

	f.workflow(t, "wf-a", "acme", models.WorkflowStatusPublished)
	require.NoError(t, f.store.TriggerRepository().SaveTrigger(context.Background(), &models.WorkflowTrigger{
		ID:         "share",
		TenantID:   "acme",
		WorkflowID: "wf-a",
		Type:       models.TriggerTypeFileAdded,
		Name:       "Share",
		Config:     map[string]any{"path": "inbox"},
		Active:     true,
	}))

	require.NoError(t, f.service.Reconcile(context.Background()))
	assert.Equal(t, 1, built)
	assert.Empty(t, f.service.Engines())

	require.NoError(t, f.service.Reconcile(context.Background()))
	assert.Equal(t, 1, built)

	serviceClock.Step(2 * time.Minute)
	require.NoError(t, f.service.Reconcile(context.Background()))
	assert.Equal(t, 2, built)

	// the second failure doubles the wait
	serviceClock.Step(2 * time.Minute)
	require.NoError(t, f.service.Reconcile(context.Background()))
	assert.Equal(t, 2, built)

	serviceClock.Step(2 * time.Minute)
	require.NoError(t, f.service.Reconcile(context.Background()))
	assert.Equal(t, 3, built)
}

func TestMonitorService_ReconcileListFailure(t *testing.T) {
	repo := &mocks.MockTriggerRepository{}
	repo.On("ListActiveTriggers", mock.Anything).Return(nil, errors.New("connection refused"))

	service := NewMonitorService(testLogger(), repo, func(string) *Engine {
		t.Fatal("no engine expected")

		return nil
	})

	err := service.Reconcile(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestMonitorService_RunStopsEnginesOnCancel(t *testing.T) {
	f := newServiceFixture(t)
	serviceClock := clocktesting.NewFakeClock(monday)
	f.service = NewMonitorService(testLogger(), f.store.TriggerRepository(), f.service.newEngine,
		WithReconcileInterval(time.Minute), WithServiceClock(serviceClock))

	f.workflow(t, "wf-a", "acme", models.WorkflowStatusPublished)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- f.service.Run(ctx) }()

	require.Eventually(t, serviceClock.HasWaiters, waitFor, time.Millisecond)
	assert.Empty(t, f.service.Engines())

	f.trigger(t, "t-hook", "acme", "wf-a", nil)
	serviceClock.Step(time.Minute)

	require.Eventually(t, func() bool { return len(f.service.Engines()) == 1 }, waitFor, time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("monitor service did not stop")
	}

	assert.Empty(t, f.service.Engines())
}
