package errorhandler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vincentsider/bolt.new-sub002/pkg/mocks"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	clocktesting "k8s.io/utils/clock/testing"
)

type compensatorMap map[models.StepType]Compensator

func (m compensatorMap) Compensator(stepType models.StepType) (Compensator, bool) {
	c, ok := m[stepType]

	return c, ok
}

type recordingStore struct {
	records []*models.RollbackRecord
}

func (s *recordingStore) SaveRollbackRecord(_ context.Context, record *models.RollbackRecord) error {
	s.records = append(s.records, record)

	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func retryConfig() Config {
	return Config{
		OnStepFailure: ActionRetry,
		RetryPolicy: models.RetryPolicy{
			Strategy:        models.RetryStrategyFixed,
			BaseDelayMs:     1000,
			MaxAttempts:     3,
			RetryableErrors: []models.ErrorType{models.ErrorTypeTimeout},
		},
	}
}

func TestHandler_ResolveStepFailure(t *testing.T) {
	handler := NewHandler(testLogger(), nil, WithRandom(func() float64 { return 0.5 }))
	timeout := models.NewWorkflowError(models.ErrorTypeTimeout, "timed out", nil)
	validation := models.NewWorkflowError(models.ErrorTypeValidation, "invalid", nil)

	t.Run("retry while attempts remain", func(t *testing.T) {
		action := handler.ResolveStepFailure(timeout, retryConfig(), "", 1)
		assert.Equal(t, ActionRetry, action.Kind)
		assert.Equal(t, 1050*time.Millisecond, action.Delay)

		action = handler.ResolveStepFailure(timeout, retryConfig(), "", 2)
		assert.Equal(t, ActionRetry, action.Kind)
	})

	t.Run("exhausted retries stop", func(t *testing.T) {
		action := handler.ResolveStepFailure(timeout, retryConfig(), "", 3)
		assert.Equal(t, ActionStop, action.Kind)
	})

	t.Run("non retryable error falls through to fallback", func(t *testing.T) {
		action := handler.ResolveStepFailure(validation, retryConfig(), "manual_review", 1)
		assert.Equal(t, ActionFallback, action.Kind)
		assert.Equal(t, "manual_review", action.FallbackStepID)
	})

	t.Run("error flag vetoes policy", func(t *testing.T) {
		notRetryable := &models.WorkflowError{Type: models.ErrorTypeTimeout, Retryable: false}
		action := handler.ResolveStepFailure(notRetryable, retryConfig(), "", 1)
		assert.Equal(t, ActionStop, action.Kind)
	})

	t.Run("continue", func(t *testing.T) {
		action := handler.ResolveStepFailure(timeout, Config{OnStepFailure: ActionContinue}, "", 1)
		assert.Equal(t, ActionContinue, action.Kind)
	})

	t.Run("fallback without target stops", func(t *testing.T) {
		action := handler.ResolveStepFailure(timeout, Config{OnStepFailure: ActionFallback}, "", 1)
		assert.Equal(t, ActionStop, action.Kind)
	})

	t.Run("stop", func(t *testing.T) {
		action := handler.ResolveStepFailure(timeout, Config{OnStepFailure: ActionStop}, "next", 1)
		assert.Equal(t, ActionStop, action.Kind)
	})
}

func TestConfigFromSettings(t *testing.T) {
	cfg := ConfigFromSettings(models.WorkflowSettings{ErrorHandling: models.ErrorHandlingRetry, MaxRetries: 4})
	assert.Equal(t, ActionRetry, cfg.OnStepFailure)
	assert.Equal(t, 4, cfg.RetryPolicy.MaxAttempts)
	assert.Equal(t, models.WorkflowFailureNone, cfg.OnWorkflowFailure)

	policy := &models.RetryPolicy{Strategy: models.RetryStrategyFixed, MaxAttempts: 2}
	cfg = ConfigFromSettings(models.WorkflowSettings{ErrorHandling: models.ErrorHandlingContinue, RetryPolicy: policy})
	assert.Equal(t, ActionContinue, cfg.OnStepFailure)
	assert.Equal(t, *policy, cfg.RetryPolicy)

	assert.Equal(t, ActionStop, ConfigFromSettings(models.WorkflowSettings{}).OnStepFailure)
}

func TestHandler_HandleWorkflowFailure_Rollback(t *testing.T) {
	fakeClock := clocktesting.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := &recordingStore{}
	compensated := make([]string, 0)

	handler := NewHandler(testLogger(), nil,
		WithClock(fakeClock),
		WithRollbackStore(store),
		WithCompensators(compensatorMap{
			models.StepTypeUpdate: func(_ context.Context, step *models.StepExecution) error {
				compensated = append(compensated, step.StepID)

				return nil
			},
			models.StepTypeApprove: func(context.Context, *models.StepExecution) error {
				return errors.New("approval already sent")
			},
		}),
	)

	base := fakeClock.Now()
	at := func(minutes int) *time.Time {
		ts := base.Add(time.Duration(minutes) * time.Minute)

		return &ts
	}

	steps := []*models.StepExecution{
		{StepID: "capture", StepType: models.StepTypeCapture, Status: models.StepStatusCompleted, CompletedAt: at(1)},
		{StepID: "approve", StepType: models.StepTypeApprove, Status: models.StepStatusCompleted, CompletedAt: at(3)},
		{StepID: "update", StepType: models.StepTypeUpdate, Status: models.StepStatusCompleted, CompletedAt: at(2)},
		{StepID: "broken", StepType: models.StepTypeUpdate, Status: models.StepStatusFailed},
	}

	execution := &models.WorkflowExecution{ID: "exec-1", WorkflowID: "wf"}
	werr := models.NewWorkflowError(models.ErrorTypeValidation, "invalid amount", nil)

	records, err := handler.HandleWorkflowFailure(context.Background(), execution, werr,
		Config{OnWorkflowFailure: models.WorkflowFailureRollback}, steps)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "approve", records[0].StepID)
	assert.Equal(t, models.RollbackStatusFailed, records[0].Status)
	assert.Equal(t, "approval already sent", records[0].Error)
	assert.Equal(t, "update", records[1].StepID)
	assert.Equal(t, models.RollbackStatusCompensated, records[1].Status)
	assert.Equal(t, "capture", records[2].StepID)
	assert.Equal(t, models.RollbackStatusPending, records[2].Status)
	assert.Equal(t, "exec-1", records[2].ExecutionID)
	assert.Equal(t, base, records[2].CreatedAt)

	assert.Equal(t, []string{"update"}, compensated)
	assert.Equal(t, records, store.records)
}

func TestHandler_HandleWorkflowFailure_Notify(t *testing.T) {
	notifier := &mocks.MockNotifier{}
	notifier.On("SendEmail", mock.Anything, []string{"ops@example.com"}, mock.MatchedBy(func(msg string) bool {
		return assert.Contains(t, msg, "exec-2")
	})).Return(nil)
	notifier.On("SendWebhook", mock.Anything, []string{"https://hooks.example.com/x"}, mock.Anything).Return(nil)

	handler := NewHandler(testLogger(), notifier)
	execution := &models.WorkflowExecution{ID: "exec-2", WorkflowID: "wf"}

	_, err := handler.HandleWorkflowFailure(context.Background(), execution,
		models.NewWorkflowError(models.ErrorTypeBusinessRule, "over budget", nil),
		Config{
			OnWorkflowFailure: models.WorkflowFailureNotify,
			NotificationChannels: []models.NotificationChannel{
				{Type: "email", Recipients: []string{"ops@example.com"}},
				{Type: "webhook", Recipients: []string{"https://hooks.example.com/x"}},
			},
		}, nil)
	require.NoError(t, err)

	notifier.AssertExpectations(t)
	notifier.AssertNotCalled(t, "SendChatMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_HandleWorkflowFailure_SystemAlwaysAlerts(t *testing.T) {
	notifier := &mocks.MockNotifier{}
	notifier.On("SendChatMessage", mock.Anything, []string{"sre"}, mock.MatchedBy(func(msg string) bool {
		return len(msg) > 9 && msg[:9] == "CRITICAL:"
	})).Return(nil).Once()

	handler := NewHandler(testLogger(), notifier, WithAlertRecipients("sre"))

	_, err := handler.HandleWorkflowFailure(context.Background(),
		&models.WorkflowExecution{ID: "exec-3", WorkflowID: "wf"},
		models.NewWorkflowError(models.ErrorTypeSystem, "store unreachable", nil),
		Config{OnWorkflowFailure: models.WorkflowFailureNone}, nil)
	require.NoError(t, err)

	notifier.AssertExpectations(t)
}

func TestHandler_HandleWorkflowFailure_NotifyError(t *testing.T) {
	notifier := &mocks.MockNotifier{}
	notifier.On("SendChatMessage", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("chat down"))

	handler := NewHandler(testLogger(), notifier)

	_, err := handler.HandleWorkflowFailure(context.Background(),
		&models.WorkflowExecution{ID: "exec-4"},
		models.NewWorkflowError(models.ErrorTypeUser, "forbidden", nil),
		Config{
			OnWorkflowFailure:    models.WorkflowFailureNotify,
			NotificationChannels: []models.NotificationChannel{{Type: "chat", Recipients: []string{"#ops"}}},
		}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat down")
}
