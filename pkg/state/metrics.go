package state

import (
	"time"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
)

// SLAApproachingBuffer is how close to the deadline an execution is reported as approaching.
const SLAApproachingBuffer = 30 * time.Minute

type SLAStatus string

const (
	SLAWithin      SLAStatus = "within"
	SLAApproaching SLAStatus = "approaching"
	SLAExceeded    SLAStatus = "exceeded"
)

// ExecutionMetrics is derived from an execution and its known step records.
type ExecutionMetrics struct {
	ExecutionID         string        `json:"execution_id"`
	TotalSteps          int           `json:"total_steps"`
	CompletedSteps      int           `json:"completed_steps"`
	FailedSteps         int           `json:"failed_steps"`
	SkippedSteps        int           `json:"skipped_steps"`
	PendingSteps        int           `json:"pending_steps"`
	AverageStepDuration time.Duration `json:"average_step_duration"`
	ProgressPercentage  float64       `json:"progress_percentage"`
	SLAStatus           SLAStatus     `json:"sla_status"`
	EstimatedCompletion *time.Time    `json:"estimated_completion,omitempty"`
}

// ComputeMetrics derives metrics at now. In-progress steps count as pending.
// execution may be nil when only step records have been observed.
func ComputeMetrics(
	executionID string,
	execution *models.WorkflowExecution,
	steps []*models.StepExecution,
	now time.Time,
) *ExecutionMetrics {
	metrics := &ExecutionMetrics{
		ExecutionID: executionID,
		TotalSteps:  len(steps),
		SLAStatus:   SLAWithin,
	}

	var (
		total    time.Duration
		measured int
	)

	for _, step := range steps {
		switch step.Status {
		case models.StepStatusCompleted:
			metrics.CompletedSteps++

			if d, ok := step.Duration(); ok {
				total += d
				measured++
			}
		case models.StepStatusFailed:
			metrics.FailedSteps++
		case models.StepStatusSkipped:
			metrics.SkippedSteps++
		case models.StepStatusPending, models.StepStatusInProgress:
			metrics.PendingSteps++
		}
	}

	if metrics.TotalSteps == 0 {
		metrics.ProgressPercentage = 100
	} else {
		metrics.ProgressPercentage = float64(metrics.CompletedSteps) / float64(metrics.TotalSteps) * 100
	}

	if measured > 0 {
		metrics.AverageStepDuration = total / time.Duration(measured)
	}

	if execution == nil {
		return metrics
	}

	metrics.SLAStatus = slaStatus(execution, now)

	if measured > 0 && !execution.Status.Terminal() {
		eta := now.Add(metrics.AverageStepDuration * time.Duration(metrics.PendingSteps))
		metrics.EstimatedCompletion = &eta
	}

	return metrics
}

func slaStatus(execution *models.WorkflowExecution, now time.Time) SLAStatus {
	if execution.SLADeadline == nil {
		return SLAWithin
	}

	reference := now
	if execution.CompletedAt != nil {
		reference = *execution.CompletedAt
	}

	deadline := *execution.SLADeadline

	switch {
	case reference.After(deadline):
		return SLAExceeded
	case !reference.Before(deadline.Add(-SLAApproachingBuffer)):
		return SLAApproaching
	default:
		return SLAWithin
	}
}
