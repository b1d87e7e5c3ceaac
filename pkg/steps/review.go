package steps

import (
	"context"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
)

const (
	StatusWaitingForReview   = "waiting_for_review"
	StatusWaitingForApproval = "waiting_for_approval"
)

// Review marks the step as handed to a human reviewer.
func Review(_ context.Context, _ map[string]any, config map[string]any, _ *models.ExecutionContext) models.StepResult {
	return models.Succeeded(humanTask(StatusWaitingForReview, config))
}

// Approve marks the step as handed to an approver.
func Approve(_ context.Context, _ map[string]any, config map[string]any, _ *models.ExecutionContext) models.StepResult {
	return models.Succeeded(humanTask(StatusWaitingForApproval, config))
}

func humanTask(status string, config map[string]any) map[string]any {
	output := map[string]any{"status": status}

	for _, key := range []string{"assignee", "approver", "reviewer"} {
		if value, ok := config[key]; ok {
			output[key] = value
		}
	}

	return output
}
