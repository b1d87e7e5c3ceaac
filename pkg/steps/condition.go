package steps

import (
	"context"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
)

// Condition evaluates config.condition against the input. Without a condition it
// evaluates to true, matching an unconditional edge.
func Condition(_ context.Context, input map[string]any, config map[string]any, _ *models.ExecutionContext) models.StepResult {
	raw, ok := config["condition"]
	if !ok || raw == nil {
		return models.Succeeded(map[string]any{"result": true})
	}

	condition, ok := models.ConditionFromMap(raw)
	if !ok {
		return validationFailure("invalid condition %v", raw)
	}

	return models.Succeeded(map[string]any{"result": condition.Evaluate(input)})
}
