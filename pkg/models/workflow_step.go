package models

// StepType is the closed set of executable step kinds.
type StepType string

const (
	StepTypeCapture   StepType = "capture"
	StepTypeReview    StepType = "review"
	StepTypeApprove   StepType = "approve"
	StepTypeUpdate    StepType = "update"
	StepTypeCondition StepType = "condition"
	StepTypeParallel  StepType = "parallel"
)

// StepTypes lists every step type in a stable order.
var StepTypes = []StepType{
	StepTypeCapture,
	StepTypeReview,
	StepTypeApprove,
	StepTypeUpdate,
	StepTypeCondition,
	StepTypeParallel,
}

// Valid reports whether t belongs to the closed set.
func (t StepType) Valid() bool {
	for _, known := range StepTypes {
		if t == known {
			return true
		}
	}

	return false
}

// WorkflowStep is one node of the definition graph.
type WorkflowStep struct {
	ID        string         `json:"id"         validate:"required"`
	Type      StepType       `json:"type"       validate:"required"`
	Name      string         `json:"name"       validate:"required"`
	Config    map[string]any `json:"config"`
	NextSteps []NextStep     `json:"next_steps" validate:"dive"`
}

// NextStep is an outgoing edge; an edge without a condition is always taken.
type NextStep struct {
	StepID    string     `json:"step_id"             validate:"required"`
	Condition *Condition `json:"condition,omitempty"`
}

// FallbackStepID returns the step to route to when this step fails with the fallback action.
func (s *WorkflowStep) FallbackStepID() string {
	if s.Config == nil {
		return ""
	}

	id, _ := s.Config["fallback_step_id"].(string)

	return id
}

// ContextKey is the key under which the step output is stored in the execution data.
func (s *WorkflowStep) ContextKey() string {
	return StepContextKey(s.ID)
}

// StepContextKey namespaces a step output inside ExecutionContext.Data.
func StepContextKey(stepID string) string {
	return "step_" + stepID
}

// StepResult is what every step executor returns. Executors never panic or
// return Go errors; failures travel in Error.
type StepResult struct {
	Success bool           `json:"success"`
	Output  map[string]any `json:"output,omitempty"`
	Error   error          `json:"-"`
}

// Succeeded builds a successful StepResult.
func Succeeded(output map[string]any) StepResult {
	return StepResult{Success: true, Output: output}
}

// Failed builds a failed StepResult.
func Failed(err error) StepResult {
	return StepResult{Success: false, Error: err}
}
