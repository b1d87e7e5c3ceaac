package models

import "time"

// ExecutionStatus is the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

var executionTransitions = map[ExecutionStatus]map[ExecutionStatus]bool{
	ExecutionStatusRunning: {
		ExecutionStatusPaused:    true,
		ExecutionStatusCompleted: true,
		ExecutionStatusFailed:    true,
		ExecutionStatusCancelled: true,
	},
	ExecutionStatusPaused: {
		ExecutionStatusRunning:   true,
		ExecutionStatusCancelled: true,
	},
}

// Terminal reports whether no further transition is allowed.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	return executionTransitions[s][next]
}

// WorkflowExecution is one run of a published definition.
type WorkflowExecution struct {
	ID              string           `json:"id"`
	TenantID        string           `json:"tenant_id"`
	WorkflowID      string           `json:"workflow_id"`
	WorkflowVersion int              `json:"workflow_version"`
	Status          ExecutionStatus  `json:"status"`
	CurrentSteps    []string         `json:"current_steps"`
	DeferredSteps   []string         `json:"deferred_steps,omitempty"`
	ResolvedSteps   []ResolvedStep   `json:"resolved_steps,omitempty"`
	Context         ExecutionContext `json:"context"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	SLADeadline     *time.Time       `json:"sla_deadline,omitempty"`
	Error           *WorkflowError   `json:"error,omitempty"`
	Revision        int64            `json:"revision"`
}

// Clone returns a deep enough copy for handing to observers and stores.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	if e == nil {
		return nil
	}

	clone := *e
	clone.CurrentSteps = append([]string(nil), e.CurrentSteps...)
	clone.DeferredSteps = append([]string(nil), e.DeferredSteps...)
	clone.ResolvedSteps = append([]ResolvedStep(nil), e.ResolvedSteps...)
	clone.Context = e.Context.Clone()

	if e.CompletedAt != nil {
		completedAt := *e.CompletedAt
		clone.CompletedAt = &completedAt
	}

	if e.SLADeadline != nil {
		deadline := *e.SLADeadline
		clone.SLADeadline = &deadline
	}

	if e.Error != nil {
		werr := *e.Error
		clone.Error = &werr
	}

	return &clone
}

// StepOutcome is how a resolved step feeds the next frontier.
type StepOutcome string

const (
	StepOutcomeCompleted StepOutcome = "completed" // follows its taken edges
	StepOutcomeContinued StepOutcome = "continued" // failed, ends its branch
	StepOutcomeFallback  StepOutcome = "fallback"  // failed, routes to FallbackStepID
)

// ResolvedStep records a step of the current frontier that has already finished.
// CurrentSteps only lists the steps still unresolved; the next frontier is built
// from ResolvedSteps once CurrentSteps drains. DeferredSteps holds join steps
// that were reached while another pending step could still reach them.
type ResolvedStep struct {
	StepID         string      `json:"step_id"`
	Outcome        StepOutcome `json:"outcome"`
	FallbackStepID string      `json:"fallback_step_id,omitempty"`
}

// StepStatus is the lifecycle state of one step attempt.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

// RetryAttemptKey is the output key recording how many retries a step has had.
const RetryAttemptKey = "retry_attempt"

// StepExecution is the single authoritative record of a step within an execution.
// Retries move the same record back to pending.
type StepExecution struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	TenantID    string         `json:"tenant_id"`
	StepID      string         `json:"step_id"`
	StepName    string         `json:"step_name"`
	StepType    StepType       `json:"step_type"`
	Status      StepStatus     `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       *WorkflowError `json:"error,omitempty"`
	Attempt     int            `json:"attempt"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Revision    int64          `json:"revision"`
}

// Clone returns a copy safe to hand to observers.
func (s *StepExecution) Clone() *StepExecution {
	if s == nil {
		return nil
	}

	clone := *s
	clone.Input = CloneMap(s.Input)
	clone.Output = CloneMap(s.Output)

	if s.CompletedAt != nil {
		completedAt := *s.CompletedAt
		clone.CompletedAt = &completedAt
	}

	if s.Error != nil {
		werr := *s.Error
		clone.Error = &werr
	}

	return &clone
}

// RetryAttempt returns the retry counter embedded in the output.
func (s *StepExecution) RetryAttempt() int {
	if s.Output == nil {
		return 0
	}

	n, _ := toFloat(s.Output[RetryAttemptKey])

	return int(n)
}

// Duration returns completedAt-startedAt for finished steps.
func (s *StepExecution) Duration() (time.Duration, bool) {
	if s.CompletedAt == nil || s.StartedAt.IsZero() {
		return 0, false
	}

	return s.CompletedAt.Sub(s.StartedAt), true
}

// RollbackStatus is the state of one compensation record.
type RollbackStatus string

const (
	RollbackStatusPending     RollbackStatus = "pending"
	RollbackStatusCompensated RollbackStatus = "compensated"
	RollbackStatusFailed      RollbackStatus = "failed"
)

// RollbackRecord is emitted once per completed step when a failed execution is rolled back.
type RollbackRecord struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	StepName    string         `json:"step_name"`
	StepType    StepType       `json:"step_type"`
	Status      RollbackStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// CloneMap copies the top level of a map.
func CloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}

	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}
