package steps

import (
	"context"
	"strings"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/template"
)

// Update merges config.updates into the input. Namespaced step outputs are left out
// so chained updates do not nest every earlier result. String values holding
// {{ }} actions are rendered against the input and the execution context.
func Update(_ context.Context, input map[string]any, config map[string]any, executionCtx *models.ExecutionContext) models.StepResult {
	output := make(map[string]any, len(input))

	for key, value := range input {
		if strings.HasPrefix(key, models.StepContextKey("")) {
			continue
		}

		output[key] = value
	}

	switch updates := config["updates"].(type) {
	case nil:
	case map[string]any:
		rendered, err := template.RenderValues(updates, input, executionCtx)
		if err != nil {
			return validationFailure("invalid update template: %v", err)
		}

		for key, value := range rendered {
			output[key] = value
		}
	default:
		return validationFailure("invalid updates of type %T", updates)
	}

	return models.Succeeded(output)
}
