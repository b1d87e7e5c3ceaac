package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
)

func echoExecutor(_ context.Context, input map[string]any, _ map[string]any, _ *models.ExecutionContext) models.StepResult {
	return models.Succeeded(input)
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	registry := NewRegistry(slog.Default())

	require.NoError(t, registry.Register(models.StepTypeUpdate, echoExecutor))
	require.NoError(t, registry.Register(models.StepTypeCapture, echoExecutor))

	executor, err := registry.Executor(models.StepTypeUpdate)
	require.NoError(t, err)

	result := executor(context.Background(), map[string]any{"a": 1}, nil, &models.ExecutionContext{})
	assert.True(t, result.Success)
	assert.Equal(t, map[string]any{"a": 1}, result.Output)

	assert.Equal(t, []models.StepType{models.StepTypeCapture, models.StepTypeUpdate}, registry.Types())
}

func TestRegistry_UnknownTypes(t *testing.T) {
	registry := NewRegistry(slog.Default())

	_, err := registry.Executor(models.StepTypeReview)
	require.Error(t, err)
	assert.True(t, IsUnknownStepType(err))

	err = registry.Register("send_email", echoExecutor)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownStepType)

	err = registry.Register(models.StepTypeReview, nil)
	require.Error(t, err)
}

func TestRegistry_Compensators(t *testing.T) {
	registry := NewRegistry(slog.Default())

	_, ok := registry.Compensator(models.StepTypeUpdate)
	assert.False(t, ok)

	called := false
	registry.RegisterCompensator(models.StepTypeUpdate, func(context.Context, *models.StepExecution) error {
		called = true

		return nil
	})

	compensate, ok := registry.Compensator(models.StepTypeUpdate)
	require.True(t, ok)
	require.NoError(t, compensate(context.Background(), &models.StepExecution{}))
	assert.True(t, called)
}
