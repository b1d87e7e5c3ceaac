package trigger

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vincentsider/bolt.new-sub002/pkg/engine"
	"github.com/vincentsider/bolt.new-sub002/pkg/mocks"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence/memory"
	clocktesting "k8s.io/utils/clock/testing"
)

const waitFor = 5 * time.Second

var monday = time.Date(2025, time.March, 3, 8, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type mockStarter struct {
	mock.Mock
}

func (m *mockStarter) Start(ctx context.Context, req engine.StartRequest) (string, error) {
	args := m.Called(ctx, req)

	return args.String(0), args.Error(1)
}

type staticEmails []Email

func (s staticEmails) FetchEmails(_ context.Context, _ map[string]any, since time.Time) ([]Email, error) {
	emails := make([]Email, 0)

	for _, email := range s {
		if email.ReceivedAt.After(since) {
			emails = append(emails, email)
		}
	}

	return emails, nil
}

type brokenFiles struct{}

func (brokenFiles) ListFiles(context.Context, map[string]any, time.Time) ([]File, error) {
	return nil, errors.New("share offline")
}

func newTestEngine(t *testing.T, starter Starter, opts ...Option) (*Engine, *memory.Persistence) {
	t.Helper()

	store := memory.NewPersistence()
	eng := NewEngine(testLogger(), "acme", store.TriggerRepository(), starter, opts...)

	t.Cleanup(eng.Stop)

	return eng, store
}

func newTrigger(id string, triggerType models.TriggerType, config map[string]any) *models.WorkflowTrigger {
	return &models.WorkflowTrigger{
		ID:         id,
		TenantID:   "acme",
		WorkflowID: "wf-" + id,
		Type:       triggerType,
		Name:       "Trigger " + id,
		Config:     config,
		Active:     true,
	}
}

// advance waits for the polling loop to park on its timer and then moves the clock.
func advance(t *testing.T, fc *clocktesting.FakeClock, d time.Duration) {
	t.Helper()

	require.Eventually(t, fc.HasWaiters, waitFor, time.Millisecond)
	fc.Step(d)
}

// settle waits until the tick triggered by the last advance has finished.
func settle(t *testing.T, fc *clocktesting.FakeClock) {
	t.Helper()

	require.Eventually(t, fc.HasWaiters, waitFor, time.Millisecond)
}

func TestEngine_ScheduledTriggerFiresOncePerSlot(t *testing.T) {
	fc := clocktesting.NewFakeClock(monday)
	starter := &mockStarter{}
	starter.On("Start", mock.Anything, mock.MatchedBy(func(req engine.StartRequest) bool {
		return req.WorkflowID == "wf-report" &&
			req.Initiator.Type == models.InitiatorSchedule &&
			req.Initiator.ID == "report" &&
			req.Data["schedule_type"] == "daily"
	})).Return("exec-1", nil).Once()

	eng, store := newTestEngine(t, starter, WithClock(fc))

	trigger := newTrigger("report", models.TriggerTypeScheduled, map[string]any{"schedule_type": "daily", "time": "09:30"})
	require.NoError(t, eng.StartMonitoring(context.Background(), trigger, nil))

	advance(t, fc, time.Hour) // 09:00
	settle(t, fc)
	starter.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)

	advance(t, fc, time.Hour) // 10:00
	advance(t, fc, time.Hour) // 11:00
	settle(t, fc)

	starter.AssertNumberOfCalls(t, "Start", 1)

	stored, err := store.TriggerRepository().GetTrigger(context.Background(), "report")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.TriggerCount)
	require.NotNil(t, stored.LastTriggeredAt)
	assert.True(t, monday.Add(2*time.Hour).Equal(*stored.LastTriggeredAt))

	events, err := store.TriggerRepository().ListEvents(context.Background(), "report")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Processed)
	assert.Equal(t, "exec-1", events[0].WorkflowInstanceID)
	assert.Equal(t, "scheduled", events[0].EventType)

	monitors := eng.Monitored()
	require.Len(t, monitors, 1)
	assert.Equal(t, models.MonitorStatusHealthy, monitors[0].Status)
	assert.True(t, monday.Add(3*time.Hour).Equal(monitors[0].LastCheck))
	assert.True(t, monday.Add(4*time.Hour).Equal(monitors[0].NextCheck))
	assert.Equal(t, time.Hour, monitors[0].CheckInterval)
}

func TestEngine_ConditionCooldown(t *testing.T) {
	fc := clocktesting.NewFakeClock(monday)

	source := &mocks.MockConditionSource{}
	source.On("Evaluate", mock.Anything, mock.Anything).Return(true, map[string]any{"queue_depth": float64(42)}, nil)

	starter := &mockStarter{}
	starter.On("Start", mock.Anything, mock.MatchedBy(func(req engine.StartRequest) bool {
		condition, _ := req.Data["condition"].(map[string]any)

		return req.Initiator.Type == models.InitiatorTrigger && condition["queue_depth"] == float64(42)
	})).Return("exec", nil)

	eng, _ := newTestEngine(t, starter, WithClock(fc), WithConditionSource(source))

	trigger := newTrigger("backlog", models.TriggerTypeConditionMet, map[string]any{
		"check_interval_minutes": float64(1),
		"cooldown_minutes":       float64(10),
	})
	require.NoError(t, eng.StartMonitoring(context.Background(), trigger, nil))

	advance(t, fc, time.Minute) // fires
	advance(t, fc, time.Minute) // cooling down, not evaluated
	settle(t, fc)

	source.AssertNumberOfCalls(t, "Evaluate", 1)
	starter.AssertNumberOfCalls(t, "Start", 1)

	advance(t, fc, 10*time.Minute)
	settle(t, fc)

	source.AssertNumberOfCalls(t, "Evaluate", 2)
	starter.AssertNumberOfCalls(t, "Start", 2)
}

func TestEngine_ConditionNotMet(t *testing.T) {
	fc := clocktesting.NewFakeClock(monday)

	source := &mocks.MockConditionSource{}
	source.On("Evaluate", mock.Anything, mock.Anything).Return(false, nil, nil)

	starter := &mockStarter{}
	eng, _ := newTestEngine(t, starter, WithClock(fc), WithConditionSource(source))

	require.NoError(t, eng.StartMonitoring(context.Background(), newTrigger("quiet", models.TriggerTypeConditionMet, nil), nil))

	advance(t, fc, 5*time.Minute)
	settle(t, fc)

	source.AssertNumberOfCalls(t, "Evaluate", 1)
	starter.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
}

func TestEngine_FileTriggerFiresForNewMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	modified := monday.Add(30 * time.Second)

	for _, name := range []string{"invoice.pdf", "notes.txt"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("content"), 0o600))
		require.NoError(t, os.Chtimes(path, modified, modified))
	}

	fc := clocktesting.NewFakeClock(monday)
	starter := &mockStarter{}
	starter.On("Start", mock.Anything, mock.MatchedBy(func(req engine.StartRequest) bool {
		file, _ := req.Data["file"].(map[string]any)

		return file["name"] == "invoice.pdf" && file["path"] == filepath.Join(dir, "invoice.pdf")
	})).Return("exec-file", nil).Once()

	eng, _ := newTestEngine(t, starter, WithClock(fc))

	trigger := newTrigger("inbox", models.TriggerTypeFileAdded, map[string]any{
		"path":    dir,
		"filters": map[string]any{"extensions": []any{"pdf"}},
	})
	require.NoError(t, eng.StartMonitoring(context.Background(), trigger, nil))

	advance(t, fc, 2*time.Minute)
	advance(t, fc, 2*time.Minute) // already seen
	settle(t, fc)

	starter.AssertNumberOfCalls(t, "Start", 1)
}

func TestEngine_EmailTrigger(t *testing.T) {
	fc := clocktesting.NewFakeClock(monday)
	emails := staticEmails{
		{ID: "m-1", From: "billing@vendor.io", Subject: "Invoice 42", ReceivedAt: monday.Add(10 * time.Second)},
		{ID: "m-2", From: "news@vendor.io", Subject: "Newsletter", ReceivedAt: monday.Add(20 * time.Second)},
	}

	starter := &mockStarter{}
	starter.On("Start", mock.Anything, mock.MatchedBy(func(req engine.StartRequest) bool {
		email, _ := req.Data["email"].(map[string]any)

		return email["id"] == "m-1"
	})).Return("exec-mail", nil).Once()

	eng, _ := newTestEngine(t, starter, WithClock(fc), WithEmailSource(emails))

	trigger := newTrigger("mail", models.TriggerTypeEmailReceived, map[string]any{
		"filters": map[string]any{"subject": "invoice"},
	})
	require.NoError(t, eng.StartMonitoring(context.Background(), trigger, nil))

	advance(t, fc, time.Minute)
	settle(t, fc)

	starter.AssertNumberOfCalls(t, "Start", 1)
}

func TestEngine_CheckFailureMarksWarning(t *testing.T) {
	fc := clocktesting.NewFakeClock(monday)
	eng, _ := newTestEngine(t, &mockStarter{}, WithClock(fc), WithFileSource(brokenFiles{}))

	require.NoError(t, eng.StartMonitoring(context.Background(), newTrigger("share", models.TriggerTypeFileAdded, map[string]any{"path": "/mnt/share"}), nil))

	advance(t, fc, 2*time.Minute)
	settle(t, fc)

	monitors := eng.Monitored()
	require.Len(t, monitors, 1)
	assert.Equal(t, models.MonitorStatusWarning, monitors[0].Status)
	assert.Contains(t, monitors[0].ErrorMessage, "share offline")
}

func TestEngine_FireFailureCountsAgainstTrigger(t *testing.T) {
	starter := &mockStarter{}
	starter.On("Start", mock.Anything, mock.Anything).Return("", errors.New("workflow not published"))

	eng, store := newTestEngine(t, starter)

	trigger := newTrigger("hook", models.TriggerTypeWebhook, nil)
	require.NoError(t, eng.StartMonitoring(context.Background(), trigger, nil))

	_, err := eng.Fire(context.Background(), trigger, "webhook", map[string]any{"ping": true})
	require.Error(t, err)
	assert.True(t, IsFireFailed(err))

	stored, err := store.TriggerRepository().GetTrigger(context.Background(), "hook")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ErrorCount)
	assert.Equal(t, int64(0), stored.TriggerCount)

	monitors := eng.Monitored()
	require.Len(t, monitors, 1)
	assert.Equal(t, models.MonitorStatusError, monitors[0].Status)
	assert.Contains(t, monitors[0].ErrorMessage, "workflow not published")

	events, err := store.TriggerRepository().ListEvents(context.Background(), "hook")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Processed)
	assert.Equal(t, "workflow not published", events[0].Error)
}

func TestEngine_FireWithoutEventRecord(t *testing.T) {
	repo := &mocks.MockTriggerRepository{}
	repo.On("GetTrigger", mock.Anything, "hook").Return(nil, persistence.ErrTriggerNotFound)
	repo.On("SaveEvent", mock.Anything, mock.Anything).Return(errors.New("disk full"))
	repo.On("SaveTrigger", mock.Anything, mock.MatchedBy(func(trigger *models.WorkflowTrigger) bool {
		return trigger.ErrorCount == 1
	})).Return(nil)

	starter := &mockStarter{}
	eng := NewEngine(testLogger(), "acme", repo, starter)
	t.Cleanup(eng.Stop)

	_, err := eng.Fire(context.Background(), newTrigger("hook", models.TriggerTypeWebhook, nil), "webhook", nil)
	require.Error(t, err)
	assert.True(t, IsFireFailed(err))

	starter.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
	repo.AssertExpectations(t)
}

func TestEngine_FireSkipsTriggerDeactivatedInStore(t *testing.T) {
	starter := &mockStarter{}
	eng, store := newTestEngine(t, starter)

	trigger := newTrigger("hook", models.TriggerTypeWebhook, nil)
	require.NoError(t, store.TriggerRepository().SaveTrigger(context.Background(), trigger))
	require.NoError(t, eng.StartMonitoring(context.Background(), trigger, nil))

	deactivated := *trigger
	deactivated.Active = false
	require.NoError(t, store.TriggerRepository().SaveTrigger(context.Background(), &deactivated))

	_, err := eng.Fire(context.Background(), trigger, "webhook", nil)
	require.Error(t, err)
	assert.True(t, IsTriggerInactive(err))

	starter.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)

	stored, err := store.TriggerRepository().GetTrigger(context.Background(), "hook")
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.Equal(t, int64(0), stored.TriggerCount)

	events, err := store.TriggerRepository().ListEvents(context.Background(), "hook")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEngine_FireKeepsStoredEdits(t *testing.T) {
	starter := &mockStarter{}
	starter.On("Start", mock.Anything, mock.Anything).Return("exec-1", nil)

	eng, store := newTestEngine(t, starter)

	trigger := newTrigger("hook", models.TriggerTypeWebhook, nil)
	require.NoError(t, store.TriggerRepository().SaveTrigger(context.Background(), trigger))
	require.NoError(t, eng.StartMonitoring(context.Background(), trigger, nil))

	renamed := *trigger
	renamed.Name = "Orders webhook"
	require.NoError(t, store.TriggerRepository().SaveTrigger(context.Background(), &renamed))

	_, err := eng.Fire(context.Background(), trigger, "webhook", nil)
	require.NoError(t, err)

	stored, err := store.TriggerRepository().GetTrigger(context.Background(), "hook")
	require.NoError(t, err)
	assert.Equal(t, "Orders webhook", stored.Name)
	assert.True(t, stored.Active)
	assert.Equal(t, int64(1), stored.TriggerCount)
	require.NotNil(t, stored.LastTriggeredAt)
}

func TestEngine_TenantIsolation(t *testing.T) {
	eng, _ := newTestEngine(t, &mockStarter{})

	foreign := newTrigger("hook", models.TriggerTypeWebhook, nil)
	foreign.TenantID = "globex"

	err := eng.StartMonitoring(context.Background(), foreign, nil)
	require.ErrorIs(t, err, ErrTenantMismatch)

	_, err = eng.Fire(context.Background(), foreign, "webhook", nil)
	require.ErrorIs(t, err, ErrTenantMismatch)

	assert.Empty(t, eng.Monitored())
	assert.Equal(t, "acme", eng.TenantID())
}

func TestEngine_StartMonitoringRejections(t *testing.T) {
	eng, _ := newTestEngine(t, &mockStarter{}, WithEmailSource(nil))

	tests := []struct {
		name     string
		trigger  *models.WorkflowTrigger
		template *models.TriggerTemplate
		check    func(t *testing.T, err error)
	}{
		{
			name:    "unknown type",
			trigger: newTrigger("sms", "sms_received", nil),
			check:   func(t *testing.T, err error) { assert.True(t, IsInvalidConfig(err)) },
		},
		{
			name:    "missing email source",
			trigger: newTrigger("mail", models.TriggerTypeEmailReceived, nil),
			check:   func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrSourceUnavailable) },
		},
		{
			name:    "bad schedule",
			trigger: newTrigger("cron", models.TriggerTypeScheduled, map[string]any{"schedule_type": "custom"}),
			check:   func(t *testing.T, err error) { assert.True(t, IsInvalidConfig(err)) },
		},
		{
			name:     "template type mismatch",
			trigger:  newTrigger("hook", models.TriggerTypeWebhook, nil),
			template: &models.TriggerTemplate{ID: "tpl", Type: models.TriggerTypeScheduled, Name: "Schedule"},
			check:    func(t *testing.T, err error) { assert.True(t, IsInvalidConfig(err)) },
		},
		{
			name:    "config violates template schema",
			trigger: newTrigger("hook", models.TriggerTypeWebhook, map[string]any{"method": "POST"}),
			template: &models.TriggerTemplate{
				ID: "tpl", Type: models.TriggerTypeWebhook, Name: "Webhook",
				ConfigSchema: map[string]any{
					"type":     "object",
					"required": []any{"authentication"},
				},
			},
			check: func(t *testing.T, err error) {
				assert.True(t, IsInvalidConfig(err))
				assert.Contains(t, err.Error(), "authentication")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eng.StartMonitoring(context.Background(), tt.trigger, tt.template)
			require.Error(t, err)
			tt.check(t, err)
		})
	}

	assert.Empty(t, eng.Monitored())
}

func TestEngine_RestartReplacesMonitor(t *testing.T) {
	eng, _ := newTestEngine(t, &mockStarter{})

	trigger := newTrigger("hook", models.TriggerTypeWebhook, nil)
	require.NoError(t, eng.StartMonitoring(context.Background(), trigger, nil))

	updated := newTrigger("hook", models.TriggerTypeWebhook, map[string]any{"method": "PUT"})
	require.NoError(t, eng.StartMonitoring(context.Background(), updated, nil))

	assert.Len(t, eng.Monitored(), 1)

	current, ok := eng.Trigger("hook")
	require.True(t, ok)
	assert.Equal(t, "PUT", current.Config["method"])
}

func TestEngine_StopMonitoring(t *testing.T) {
	fc := clocktesting.NewFakeClock(monday)
	eng, _ := newTestEngine(t, &mockStarter{}, WithClock(fc))

	trigger := newTrigger("report", models.TriggerTypeScheduled, map[string]any{"schedule_type": "daily"})
	require.NoError(t, eng.StartMonitoring(context.Background(), trigger, nil))
	settle(t, fc)

	state, ok := eng.StopMonitoring("report")
	require.True(t, ok)
	assert.False(t, state.Active)
	assert.Equal(t, models.MonitorStatusDisabled, state.Status)
	assert.False(t, fc.HasWaiters())

	_, ok = eng.StopMonitoring("report")
	assert.False(t, ok)

	_, ok = eng.Trigger("report")
	assert.False(t, ok)
}

func TestEngine_StopEndsEveryLoop(t *testing.T) {
	fc := clocktesting.NewFakeClock(monday)
	eng := NewEngine(testLogger(), "acme", memory.NewPersistence().TriggerRepository(), &mockStarter{}, WithClock(fc))

	for _, id := range []string{"a", "b"} {
		require.NoError(t, eng.StartMonitoring(context.Background(), newTrigger(id, models.TriggerTypeScheduled, nil), nil))
	}

	settle(t, fc)
	eng.Stop()

	assert.False(t, fc.HasWaiters())
	assert.Empty(t, eng.Monitored())

	err := eng.StartMonitoring(context.Background(), newTrigger("c", models.TriggerTypeWebhook, nil), nil)
	require.ErrorIs(t, err, ErrEngineStopped)
}

func TestEngine_FireRecordsEventBeforeStarting(t *testing.T) {
	var (
		eng   *Engine
		store *memory.Persistence
	)

	starter := &mockStarter{}
	starter.On("Start", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		req := args.Get(1).(engine.StartRequest)

		events, err := store.TriggerRepository().ListEvents(context.Background(), "hook")
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, events[0].ID, req.Initiator.Metadata["event_id"])
		assert.False(t, events[0].Processed)
	}).Return("exec-9", nil)

	eng, store = newTestEngine(t, starter)

	executionID, err := eng.Fire(context.Background(), newTrigger("hook", models.TriggerTypeWebhook, nil), "webhook", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, "exec-9", executionID)

	stored, err := store.TriggerRepository().GetTrigger(context.Background(), "hook")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.TriggerCount)
	assert.True(t, strings.HasPrefix(stored.WorkflowID, "wf-"))
}
