package state

import (
	"context"
	"time"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
)

// EventType names one observed status transition.
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
	EventExecutionPaused    EventType = "execution_paused"
	EventExecutionResumed   EventType = "execution_resumed"
	EventExecutionCancelled EventType = "execution_cancelled"
	EventStepStarted        EventType = "step_started"
	EventStepCompleted      EventType = "step_completed"
	EventStepFailed         EventType = "step_failed"
	EventStepRetry          EventType = "step_retry"
)

// ExecutionEvent is delivered to every listener, in the order transitions were applied.
type ExecutionEvent struct {
	Type        EventType                 `json:"type"`
	TenantID    string                    `json:"tenant_id"`
	ExecutionID string                    `json:"execution_id"`
	StepID      string                    `json:"step_id,omitempty"`
	Timestamp   time.Time                 `json:"timestamp"`
	Execution   *models.WorkflowExecution `json:"execution,omitempty"`
	Step        *models.StepExecution     `json:"step,omitempty"`
	Metrics     *ExecutionMetrics         `json:"metrics,omitempty"`
}

// Listener receives execution events. Returned errors and panics are logged and
// never reach the caller that applied the update.
type Listener func(ctx context.Context, event ExecutionEvent) error

func executionEventType(previous *models.WorkflowExecution, current *models.WorkflowExecution) (EventType, bool) {
	if previous != nil && previous.Status == current.Status {
		return "", false
	}

	switch current.Status {
	case models.ExecutionStatusRunning:
		if previous != nil && previous.Status == models.ExecutionStatusPaused {
			return EventExecutionResumed, true
		}

		return EventExecutionStarted, true
	case models.ExecutionStatusPaused:
		return EventExecutionPaused, true
	case models.ExecutionStatusCompleted:
		return EventExecutionCompleted, true
	case models.ExecutionStatusFailed:
		return EventExecutionFailed, true
	case models.ExecutionStatusCancelled:
		return EventExecutionCancelled, true
	default:
		return "", false
	}
}

// stepEventType maps a step transition to its event. A move back to pending
// is a retry only when the embedded retry counter grew; a pause reset emits nothing.
func stepEventType(previous *models.StepExecution, current *models.StepExecution) (EventType, bool) {
	if previous != nil && previous.Status == current.Status {
		return "", false
	}

	switch current.Status {
	case models.StepStatusInProgress:
		return EventStepStarted, true
	case models.StepStatusCompleted:
		return EventStepCompleted, true
	case models.StepStatusFailed:
		return EventStepFailed, true
	case models.StepStatusPending:
		before := 0
		if previous != nil {
			before = previous.RetryAttempt()
		}

		if current.RetryAttempt() > before {
			return EventStepRetry, true
		}

		return "", false
	default:
		return "", false
	}
}
