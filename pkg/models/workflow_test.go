package models

import (
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expenseDefinition() *WorkflowDefinition {
	return &WorkflowDefinition{
		ID:       "expense",
		TenantID: "acme",
		Name:     "Expense approval",
		Version:  1,
		Status:   WorkflowStatusPublished,
		Steps: []*WorkflowStep{
			{
				ID: "capture", Type: StepTypeCapture, Name: "Capture",
				NextSteps: []NextStep{{StepID: "check"}},
			},
			{
				ID: "check", Type: StepTypeCondition, Name: "Check amount",
				NextSteps: []NextStep{
					{StepID: "approve", Condition: &Condition{Field: "amount", Operator: OperatorGreater, Value: 500}},
					{StepID: "auto", Condition: &Condition{Field: "amount", Operator: OperatorLess, Value: 501}},
				},
			},
			{ID: "approve", Type: StepTypeApprove, Name: "Manager approval", NextSteps: []NextStep{{StepID: "notify"}}},
			{ID: "auto", Type: StepTypeUpdate, Name: "Auto approve", NextSteps: []NextStep{{StepID: "notify"}}},
			{ID: "notify", Type: StepTypeUpdate, Name: "Notify"},
		},
	}
}

func TestWorkflowDefinition_EntrySteps(t *testing.T) {
	definition := expenseDefinition()
	assert.Equal(t, []string{"capture"}, definition.EntrySteps())

	definition.Steps = append(definition.Steps, &WorkflowStep{ID: "audit", Type: StepTypeCapture, Name: "Audit"})
	assert.Equal(t, []string{"capture", "audit"}, definition.EntrySteps())

	definition.Steps[0].Config = map[string]any{"fallback_step_id": "audit"}
	assert.Equal(t, []string{"capture"}, definition.EntrySteps())

	empty := &WorkflowDefinition{}
	assert.Empty(t, empty.EntrySteps())
}

func TestWorkflowDefinition_Clone(t *testing.T) {
	original := expenseDefinition()
	original.Steps[0].Config = map[string]any{"fields": "amount"}

	clone := original.Clone()
	require.Equal(t, original, clone)

	clone.Steps[0].Config["fields"] = "total"
	clone.Steps[1].NextSteps[0].StepID = "elsewhere"
	clone.Steps = append(clone.Steps, &WorkflowStep{ID: "extra", Type: StepTypeUpdate, Name: "Extra"})

	assert.Equal(t, "amount", original.Steps[0].Config["fields"])
	assert.Equal(t, "approve", original.Steps[1].NextSteps[0].StepID)
	assert.Len(t, original.Steps, 5)
}

func TestWorkflowDefinition_Validate(t *testing.T) {
	validate := validator.New()

	t.Run("valid definition", func(t *testing.T) {
		require.NoError(t, expenseDefinition().Validate(validate))
	})

	tests := []struct {
		name   string
		mutate func(*WorkflowDefinition)
	}{
		{"duplicate id", func(d *WorkflowDefinition) {
			d.Steps = append(d.Steps, &WorkflowStep{ID: "notify", Type: StepTypeUpdate, Name: "Again"})
		}},
		{"unknown step type", func(d *WorkflowDefinition) { d.Steps[4].Type = "email" }},
		{"missing edge target", func(d *WorkflowDefinition) {
			d.Steps[4].NextSteps = []NextStep{{StepID: "ghost"}}
		}},
		{"unknown operator", func(d *WorkflowDefinition) {
			d.Steps[1].NextSteps[0].Condition.Operator = "between"
		}},
		{"cycle", func(d *WorkflowDefinition) {
			d.Steps[4].NextSteps = []NextStep{{StepID: "check"}}
		}},
		{"missing fallback", func(d *WorkflowDefinition) {
			d.Steps[2].Config = map[string]any{"fallback_step_id": "ghost"}
		}},
		{"struct tags", func(d *WorkflowDefinition) { d.Name = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			definition := expenseDefinition()
			tt.mutate(definition)

			err := definition.Validate(validate)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidDefinition)
		})
	}
}

func TestExecutionStatus_Transitions(t *testing.T) {
	assert.True(t, ExecutionStatusRunning.CanTransitionTo(ExecutionStatusPaused))
	assert.True(t, ExecutionStatusRunning.CanTransitionTo(ExecutionStatusCompleted))
	assert.True(t, ExecutionStatusPaused.CanTransitionTo(ExecutionStatusRunning))
	assert.True(t, ExecutionStatusPaused.CanTransitionTo(ExecutionStatusCancelled))
	assert.False(t, ExecutionStatusPaused.CanTransitionTo(ExecutionStatusCompleted))
	assert.False(t, ExecutionStatusRunning.CanTransitionTo(ExecutionStatusRunning))

	for _, terminal := range []ExecutionStatus{ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled} {
		assert.True(t, terminal.Terminal())

		for _, next := range []ExecutionStatus{
			ExecutionStatusRunning, ExecutionStatusPaused, ExecutionStatusCompleted,
			ExecutionStatusFailed, ExecutionStatusCancelled,
		} {
			assert.False(t, terminal.CanTransitionTo(next), "%s -> %s", terminal, next)
		}
	}
}

func TestStepExecution_RetryAttemptAndDuration(t *testing.T) {
	step := &StepExecution{Output: map[string]any{RetryAttemptKey: 2}}
	assert.Equal(t, 2, step.RetryAttempt())

	_, ok := step.Duration()
	assert.False(t, ok)

	clone := step.Clone()
	clone.Output[RetryAttemptKey] = 3
	assert.Equal(t, 2, step.RetryAttempt())
}

func TestNewWorkflowError_Defaults(t *testing.T) {
	tests := []struct {
		errType     ErrorType
		recoverable bool
		retryable   bool
	}{
		{ErrorTypeTimeout, true, true},
		{ErrorTypeValidation, true, false},
		{ErrorTypeExternalAPI, true, true},
		{ErrorTypeUser, true, false},
		{ErrorTypeBusinessRule, true, false},
		{ErrorTypeSystem, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			werr := NewWorkflowError(tt.errType, "boom", nil)
			assert.NotEmpty(t, werr.ID)
			assert.Equal(t, tt.recoverable, werr.Recoverable)
			assert.Equal(t, tt.retryable, werr.Retryable)
			assert.Equal(t, string(tt.errType)+": boom", werr.Error())
		})
	}
}

func TestWorkflowDefinition_Reaches(t *testing.T) {
	definition := &WorkflowDefinition{
		Steps: []*WorkflowStep{
			{ID: "a", Type: StepTypeCapture, NextSteps: []NextStep{{StepID: "b"}, {StepID: "c"}}},
			{ID: "b", Type: StepTypeUpdate, NextSteps: []NextStep{{StepID: "c"}}},
			{ID: "c", Type: StepTypeUpdate, Config: map[string]any{"fallback_step_id": "d"}},
			{ID: "d", Type: StepTypeUpdate},
		},
	}

	assert.True(t, definition.Reaches("a", "c"))
	assert.True(t, definition.Reaches("b", "c"))
	assert.True(t, definition.Reaches("b", "d"))
	assert.False(t, definition.Reaches("c", "b"))
	assert.False(t, definition.Reaches("c", "c"))
	assert.False(t, definition.Reaches("missing", "a"))
}

func TestWrapWorkflowError(t *testing.T) {
	werr := WrapWorkflowError(ErrorTypeValidation, fmt.Errorf("%w: cycle", ErrInvalidDefinition), nil)

	require.ErrorIs(t, werr, ErrInvalidDefinition)
	assert.Equal(t, ErrorTypeValidation, werr.Type)
	assert.False(t, werr.Retryable)
	assert.Equal(t, "invalid workflow definition: cycle", werr.Message)
}
