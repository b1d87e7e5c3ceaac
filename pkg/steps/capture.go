package steps

import (
	"context"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
)

// Capture outputs its configured fields. A map of fields is emitted as is; a list
// of field names copies those fields from the input.
func Capture(_ context.Context, input map[string]any, config map[string]any, _ *models.ExecutionContext) models.StepResult {
	switch fields := config["fields"].(type) {
	case nil:
		return models.Succeeded(map[string]any{})
	case map[string]any:
		return models.Succeeded(models.CloneMap(fields))
	case []any:
		output := make(map[string]any, len(fields))

		for _, raw := range fields {
			name, ok := raw.(string)
			if !ok {
				return validationFailure("capture field names must be strings, got %T", raw)
			}

			output[name] = models.Lookup(input, name)
		}

		return models.Succeeded(output)
	case []string:
		output := make(map[string]any, len(fields))
		for _, name := range fields {
			output[name] = models.Lookup(input, name)
		}

		return models.Succeeded(output)
	default:
		return validationFailure("invalid capture fields of type %T", fields)
	}
}
