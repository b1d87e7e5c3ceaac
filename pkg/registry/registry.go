// Package registry maps step types to their executors.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/vincentsider/bolt.new-sub002/pkg/errorhandler"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
)

var ErrUnknownStepType = errors.New("unknown step type")

// StepExecutor runs one step. It receives the execution data, the step config and
// the execution context, and reports failures through the result instead of panicking.
type StepExecutor func(
	ctx context.Context,
	input map[string]any,
	config map[string]any,
	execCtx *models.ExecutionContext,
) models.StepResult

type Registry struct {
	logger       *slog.Logger
	mu           sync.RWMutex
	executors    map[models.StepType]StepExecutor
	compensators map[models.StepType]errorhandler.Compensator
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:       log.With("module", "registry"),
		executors:    make(map[models.StepType]StepExecutor),
		compensators: make(map[models.StepType]errorhandler.Compensator),
	}
}

// Register installs or replaces the executor of a step type. Types outside the
// closed set are rejected.
func (r *Registry) Register(stepType models.StepType, executor StepExecutor) error {
	if !stepType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStepType, stepType)
	}

	if executor == nil {
		return fmt.Errorf("executor for step type %q is nil", stepType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, replaced := r.executors[stepType]; replaced {
		r.logger.Info("Replacing step executor", "step_type", stepType)
	}

	r.executors[stepType] = executor

	return nil
}

// Executor resolves the executor of a step type.
func (r *Registry) Executor(stepType models.StepType) (StepExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	executor, ok := r.executors[stepType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStepType, stepType)
	}

	return executor, nil
}

// Types lists registered step types in a stable order.
func (r *Registry) Types() []models.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.StepType, 0, len(r.executors))
	for stepType := range r.executors {
		types = append(types, stepType)
	}

	slices.Sort(types)

	return types
}

// RegisterCompensator installs the rollback logic of a step type.
func (r *Registry) RegisterCompensator(stepType models.StepType, compensator errorhandler.Compensator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.compensators[stepType] = compensator
}

// Compensator implements errorhandler.CompensatorLookup.
func (r *Registry) Compensator(stepType models.StepType) (errorhandler.Compensator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	compensator, ok := r.compensators[stepType]

	return compensator, ok
}

func IsUnknownStepType(err error) bool {
	return errors.Is(err, ErrUnknownStepType)
}
