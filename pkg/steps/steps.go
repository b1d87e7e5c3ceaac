// Package steps provides the default executors for the built-in step types.
package steps

import (
	"fmt"

	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/registry"
)

// RegisterDefaults seeds a registry with an executor for every built-in step type.
func RegisterDefaults(r *registry.Registry) error {
	defaults := map[models.StepType]registry.StepExecutor{
		models.StepTypeCapture:   Capture,
		models.StepTypeReview:    Review,
		models.StepTypeApprove:   Approve,
		models.StepTypeUpdate:    Update,
		models.StepTypeCondition: Condition,
		models.StepTypeParallel:  Parallel,
	}

	for _, stepType := range models.StepTypes {
		err := r.Register(stepType, defaults[stepType])
		if err != nil {
			return fmt.Errorf("failed to register %s executor: %w", stepType, err)
		}
	}

	return nil
}

func validationFailure(format string, args ...any) models.StepResult {
	return models.Failed(models.NewWorkflowError(models.ErrorTypeValidation, fmt.Sprintf(format, args...), nil))
}
