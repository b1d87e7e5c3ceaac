// Package models defines the core domain models for step-graph workflow orchestration.
package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"     // Editable, not executable
	WorkflowStatusPublished WorkflowStatus = "published" // Immutable, executable
	WorkflowStatusArchived  WorkflowStatus = "archived"  // Historical, not executable
)

// ErrorHandlingMode selects what the engine does when a step fails.
type ErrorHandlingMode string

const (
	ErrorHandlingStop     ErrorHandlingMode = "stop"
	ErrorHandlingContinue ErrorHandlingMode = "continue"
	ErrorHandlingRetry    ErrorHandlingMode = "retry"
)

// WorkflowFailureAction selects what happens once an execution has failed.
type WorkflowFailureAction string

const (
	WorkflowFailureNone     WorkflowFailureAction = "none"
	WorkflowFailureRollback WorkflowFailureAction = "rollback"
	WorkflowFailureNotify   WorkflowFailureAction = "notify"
)

// ErrInvalidDefinition is wrapped by every graph validation failure.
var ErrInvalidDefinition = errors.New("invalid workflow definition")

// WorkflowDefinition is a published, immutable graph of steps.
type WorkflowDefinition struct {
	ID          string           `json:"id"                    validate:"required"`
	TenantID    string           `json:"tenant_id"             validate:"required"`
	Name        string           `json:"name"                  validate:"required,min=3"`
	Description string           `json:"description,omitempty"`
	Version     int              `json:"version"               validate:"gte=1"`
	Status      WorkflowStatus   `json:"status"                validate:"required,oneof=draft published archived"`
	Steps       []*WorkflowStep  `json:"steps"                 validate:"dive"`
	Settings    WorkflowSettings `json:"settings"`
	Triggers    []string         `json:"triggers,omitempty"` // WorkflowTrigger IDs bound to this definition
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	PublishedAt *time.Time       `json:"published_at,omitempty"`
}

// WorkflowSettings carries the execution policy of a definition.
type WorkflowSettings struct {
	ErrorHandling        ErrorHandlingMode     `json:"error_handling,omitempty"         validate:"omitempty,oneof=stop continue retry"`
	MaxRetries           int                   `json:"max_retries,omitempty"            validate:"gte=0"`
	TimeoutSeconds       int                   `json:"timeout_seconds,omitempty"        validate:"gte=0"`
	SLAMinutes           int                   `json:"sla_minutes,omitempty"            validate:"gte=0"`
	RetryPolicy          *RetryPolicy          `json:"retry_policy,omitempty"`
	OnWorkflowFailure    WorkflowFailureAction `json:"on_workflow_failure,omitempty"    validate:"omitempty,oneof=none rollback notify"`
	NotificationChannels []NotificationChannel `json:"notification_channels,omitempty"`
}

// NotificationChannel is one destination for failure notifications.
type NotificationChannel struct {
	Type       string   `json:"type"       validate:"required,oneof=email chat webhook"`
	Recipients []string `json:"recipients"`
}

// IsPublished reports whether the definition can be executed.
func (w *WorkflowDefinition) IsPublished() bool {
	return w.Status == WorkflowStatusPublished
}

// Clone copies the definition and its steps. Step configs are copied one level deep.
func (w *WorkflowDefinition) Clone() *WorkflowDefinition {
	clone := *w
	clone.Triggers = append([]string(nil), w.Triggers...)
	clone.Settings.NotificationChannels = append([]NotificationChannel(nil), w.Settings.NotificationChannels...)
	clone.Steps = make([]*WorkflowStep, len(w.Steps))

	for i, step := range w.Steps {
		copied := *step
		copied.Config = CloneMap(step.Config)
		copied.NextSteps = append([]NextStep(nil), step.NextSteps...)
		clone.Steps[i] = &copied
	}

	if w.PublishedAt != nil {
		publishedAt := *w.PublishedAt
		clone.PublishedAt = &publishedAt
	}

	return &clone
}

// StepByID returns the step with the given id.
func (w *WorkflowDefinition) StepByID(id string) (*WorkflowStep, bool) {
	for _, step := range w.Steps {
		if step.ID == id {
			return step, true
		}
	}

	return nil, false
}

// Reaches reports whether to can be reached from from through edges or
// fallbacks, ignoring edge conditions. A step does not reach itself.
func (w *WorkflowDefinition) Reaches(from, to string) bool {
	visited := make(map[string]bool)
	stack := []string{from}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		step, ok := w.StepByID(id)
		if !ok {
			continue
		}

		targets := make([]string, 0, len(step.NextSteps)+1)
		for _, next := range step.NextSteps {
			targets = append(targets, next.StepID)
		}

		if fallback := step.FallbackStepID(); fallback != "" {
			targets = append(targets, fallback)
		}

		for _, target := range targets {
			if target == to {
				return true
			}

			if !visited[target] {
				visited[target] = true
				stack = append(stack, target)
			}
		}
	}

	return false
}

// EntrySteps returns the ids of every step that neither an edge nor a fallback
// points to, in definition order.
func (w *WorkflowDefinition) EntrySteps() []string {
	referenced := make(map[string]bool)

	for _, step := range w.Steps {
		for _, next := range step.NextSteps {
			referenced[next.StepID] = true
		}

		if fallback := step.FallbackStepID(); fallback != "" {
			referenced[fallback] = true
		}
	}

	entries := make([]string, 0)

	for _, step := range w.Steps {
		if !referenced[step.ID] {
			entries = append(entries, step.ID)
		}
	}

	return entries
}

// Validate checks struct constraints and the shape of the step graph:
// unique ids, closed step types, resolvable edges, valid operators and no cycles.
func (w *WorkflowDefinition) Validate(validate *validator.Validate) error {
	if validate != nil {
		err := validate.Struct(w)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
		}
	}

	index := make(map[string]*WorkflowStep, len(w.Steps))

	for _, step := range w.Steps {
		if _, dup := index[step.ID]; dup {
			return fmt.Errorf("%w: duplicate step id %q", ErrInvalidDefinition, step.ID)
		}

		if !step.Type.Valid() {
			return fmt.Errorf("%w: step %q has unknown type %q", ErrInvalidDefinition, step.ID, step.Type)
		}

		index[step.ID] = step
	}

	for _, step := range w.Steps {
		for _, next := range step.NextSteps {
			if _, ok := index[next.StepID]; !ok {
				return fmt.Errorf("%w: step %q points to missing step %q", ErrInvalidDefinition, step.ID, next.StepID)
			}

			if next.Condition != nil && !next.Condition.Operator.Valid() {
				return fmt.Errorf("%w: step %q edge to %q uses unknown operator %q",
					ErrInvalidDefinition, step.ID, next.StepID, next.Condition.Operator)
			}
		}

		if fallback := step.FallbackStepID(); fallback != "" {
			if _, ok := index[fallback]; !ok {
				return fmt.Errorf("%w: step %q falls back to missing step %q", ErrInvalidDefinition, step.ID, fallback)
			}
		}
	}

	return w.checkAcyclic(index)
}

func (w *WorkflowDefinition) checkAcyclic(index map[string]*WorkflowStep) error {
	const (
		white = iota
		grey
		black
	)

	colour := make(map[string]int, len(index))

	var visit func(id string) error

	visit = func(id string) error {
		colour[id] = grey

		for _, next := range index[id].NextSteps {
			switch colour[next.StepID] {
			case grey:
				return fmt.Errorf("%w: cycle through steps %q -> %q", ErrInvalidDefinition, id, next.StepID)
			case white:
				err := visit(next.StepID)
				if err != nil {
					return err
				}
			}
		}

		colour[id] = black

		return nil
	}

	for _, step := range w.Steps {
		if colour[step.ID] == white {
			err := visit(step.ID)
			if err != nil {
				return err
			}
		}
	}

	return nil
}
