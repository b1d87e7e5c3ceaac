package steps

import (
	"context"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
)

// Parallel is a marker; the fan-out itself comes from the step's outgoing edges.
func Parallel(_ context.Context, _ map[string]any, config map[string]any, _ *models.ExecutionContext) models.StepResult {
	branches := 0

	switch b := config["branches"].(type) {
	case []any:
		branches = len(b)
	case []string:
		branches = len(b)
	case float64:
		branches = int(b)
	case int:
		branches = b
	}

	return models.Succeeded(map[string]any{"parallel": true, "branches": branches})
}
