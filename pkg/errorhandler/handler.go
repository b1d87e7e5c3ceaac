package errorhandler

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"k8s.io/utils/clock"
)

// StepFailureAction is what the engine should do with a failed step.
type StepFailureAction string

const (
	ActionRetry    StepFailureAction = "retry"
	ActionContinue StepFailureAction = "continue"
	ActionFallback StepFailureAction = "fallback"
	ActionStop     StepFailureAction = "stop"
)

// Config is the error handling policy of one execution.
type Config struct {
	OnStepFailure        StepFailureAction
	OnWorkflowFailure    models.WorkflowFailureAction
	RetryPolicy          models.RetryPolicy
	NotificationChannels []models.NotificationChannel
}

// ConfigFromSettings maps definition settings onto an error handling policy.
func ConfigFromSettings(settings models.WorkflowSettings) Config {
	cfg := Config{
		OnStepFailure:        ActionStop,
		OnWorkflowFailure:    settings.OnWorkflowFailure,
		NotificationChannels: settings.NotificationChannels,
	}

	switch settings.ErrorHandling {
	case models.ErrorHandlingContinue:
		cfg.OnStepFailure = ActionContinue
	case models.ErrorHandlingRetry:
		cfg.OnStepFailure = ActionRetry
	}

	if settings.RetryPolicy != nil {
		cfg.RetryPolicy = *settings.RetryPolicy
	} else {
		cfg.RetryPolicy = DefaultRetryPolicy(settings.MaxRetries)
	}

	if cfg.OnWorkflowFailure == "" {
		cfg.OnWorkflowFailure = models.WorkflowFailureNone
	}

	return cfg
}

// Action is the resolved decision for one step failure.
type Action struct {
	Kind           StepFailureAction
	Delay          time.Duration
	FallbackStepID string
}

// Compensator undoes the side effects of one completed step.
type Compensator func(ctx context.Context, step *models.StepExecution) error

// CompensatorLookup resolves compensators by step type.
type CompensatorLookup interface {
	Compensator(stepType models.StepType) (Compensator, bool)
}

// RollbackStore persists rollback records.
type RollbackStore interface {
	SaveRollbackRecord(ctx context.Context, record *models.RollbackRecord) error
}

// Handler resolves step failures and runs workflow failure handling.
type Handler struct {
	logger          *slog.Logger
	notifier        Notifier
	compensators    CompensatorLookup
	rollbacks       RollbackStore
	clock           clock.PassiveClock
	random          func() float64
	alertRecipients []string
}

type Option func(*Handler)

func WithCompensators(lookup CompensatorLookup) Option {
	return func(h *Handler) { h.compensators = lookup }
}

func WithRollbackStore(store RollbackStore) Option {
	return func(h *Handler) { h.rollbacks = store }
}

func WithClock(c clock.PassiveClock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithRandom overrides the jitter source; random must return values in [0, 1).
func WithRandom(random func() float64) Option {
	return func(h *Handler) { h.random = random }
}

// WithAlertRecipients sets who receives critical alerts over chat.
func WithAlertRecipients(recipients ...string) Option {
	return func(h *Handler) { h.alertRecipients = recipients }
}

func NewHandler(logger *slog.Logger, notifier Notifier, opts ...Option) *Handler {
	h := &Handler{
		logger:          logger.With("module", "error_handler"),
		notifier:        notifier,
		clock:           clock.RealClock{},
		alertRecipients: []string{"oncall"},
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// ResolveStepFailure decides what to do after attemptsMade attempts of a step have failed.
// A retry needs attempts left and agreement from both the error and the policy; otherwise
// the decision falls through to the fallback step when one is configured, then to stop.
func (h *Handler) ResolveStepFailure(werr *models.WorkflowError, cfg Config, fallbackStepID string, attemptsMade int) Action {
	switch cfg.OnStepFailure {
	case ActionContinue:
		return Action{Kind: ActionContinue}
	case ActionRetry:
		backoff := NewBackoff(cfg.RetryPolicy, h.random)
		if werr != nil && werr.Retryable && backoff.ShouldRetry(attemptsMade, werr.Type) {
			return Action{Kind: ActionRetry, Delay: backoff.Delay(attemptsMade - 1)}
		}

		fallthrough
	case ActionFallback:
		if fallbackStepID != "" {
			return Action{Kind: ActionFallback, FallbackStepID: fallbackStepID}
		}

		return Action{Kind: ActionStop}
	default:
		return Action{Kind: ActionStop}
	}
}

// HandleWorkflowFailure runs the configured failure action for a failed execution and
// raises a critical alert for system errors regardless of that action.
func (h *Handler) HandleWorkflowFailure(
	ctx context.Context,
	execution *models.WorkflowExecution,
	werr *models.WorkflowError,
	cfg Config,
	completedSteps []*models.StepExecution,
) ([]*models.RollbackRecord, error) {
	logger := h.logger.With("execution_id", execution.ID, "workflow_id", execution.WorkflowID)

	var (
		records []*models.RollbackRecord
		err     error
	)

	switch cfg.OnWorkflowFailure {
	case models.WorkflowFailureRollback:
		records, err = h.rollback(ctx, logger, execution, completedSteps)
	case models.WorkflowFailureNotify:
		err = h.notify(ctx, execution, werr, cfg.NotificationChannels)
	}

	if werr != nil && werr.Type == models.ErrorTypeSystem {
		alertErr := h.criticalAlert(ctx, logger, execution, werr)
		if alertErr != nil && err == nil {
			err = alertErr
		}
	}

	return records, err
}

func (h *Handler) rollback(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.WorkflowExecution,
	completedSteps []*models.StepExecution,
) ([]*models.RollbackRecord, error) {
	steps := make([]*models.StepExecution, 0, len(completedSteps))

	for _, step := range completedSteps {
		if step.Status == models.StepStatusCompleted {
			steps = append(steps, step)
		}
	}

	slices.SortStableFunc(steps, func(a, b *models.StepExecution) int {
		return cmp.Compare(completionTime(b), completionTime(a))
	})

	records := make([]*models.RollbackRecord, 0, len(steps))

	for _, step := range steps {
		record := &models.RollbackRecord{
			ID:          uuid.NewString(),
			ExecutionID: execution.ID,
			StepID:      step.StepID,
			StepName:    step.StepName,
			StepType:    step.StepType,
			Status:      models.RollbackStatusPending,
			CreatedAt:   h.clock.Now().UTC(),
		}

		if h.compensators != nil {
			if compensate, ok := h.compensators.Compensator(step.StepType); ok {
				err := compensate(ctx, step)
				if err != nil {
					record.Status = models.RollbackStatusFailed
					record.Error = err.Error()
				} else {
					record.Status = models.RollbackStatusCompensated
				}
			}
		}

		if h.rollbacks != nil {
			err := h.rollbacks.SaveRollbackRecord(ctx, record)
			if err != nil {
				return records, fmt.Errorf("failed to save rollback record for step %s: %w", step.StepID, err)
			}
		}

		logger.InfoContext(ctx, "Rollback record created", "step_id", step.StepID, "status", record.Status)

		records = append(records, record)
	}

	return records, nil
}

func completionTime(step *models.StepExecution) int64 {
	if step.CompletedAt == nil {
		return step.StartedAt.UnixNano()
	}

	return step.CompletedAt.UnixNano()
}

func (h *Handler) notify(
	ctx context.Context,
	execution *models.WorkflowExecution,
	werr *models.WorkflowError,
	channels []models.NotificationChannel,
) error {
	if h.notifier == nil {
		return nil
	}

	message := failureMessage(execution, werr)

	for _, channel := range channels {
		var err error

		switch channel.Type {
		case "email":
			err = h.notifier.SendEmail(ctx, channel.Recipients, message)
		case "chat":
			err = h.notifier.SendChatMessage(ctx, channel.Recipients, message)
		case "webhook":
			err = h.notifier.SendWebhook(ctx, channel.Recipients, message)
		default:
			err = fmt.Errorf("unsupported notification channel %q", channel.Type)
		}

		if err != nil {
			return fmt.Errorf("failed to notify %s channel: %w", channel.Type, err)
		}
	}

	return nil
}

func (h *Handler) criticalAlert(
	ctx context.Context,
	logger *slog.Logger,
	execution *models.WorkflowExecution,
	werr *models.WorkflowError,
) error {
	logger.ErrorContext(ctx, "Critical workflow error", "error_id", werr.ID, "error", werr.Message)

	if h.notifier == nil {
		return nil
	}

	err := h.notifier.SendChatMessage(ctx, h.alertRecipients, "CRITICAL: "+failureMessage(execution, werr))
	if err != nil {
		return fmt.Errorf("failed to send critical alert: %w", err)
	}

	return nil
}

func failureMessage(execution *models.WorkflowExecution, werr *models.WorkflowError) string {
	if werr == nil {
		return fmt.Sprintf("Workflow %s execution %s failed", execution.WorkflowID, execution.ID)
	}

	return fmt.Sprintf("Workflow %s execution %s failed: %s", execution.WorkflowID, execution.ID, werr.Error())
}
