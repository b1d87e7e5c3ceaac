package models

// InitiatorType identifies who started an execution.
type InitiatorType string

const (
	InitiatorUser     InitiatorType = "user"
	InitiatorAPI      InitiatorType = "api"
	InitiatorTrigger  InitiatorType = "trigger"
	InitiatorSchedule InitiatorType = "schedule"
)

// Initiator describes the origin of an execution.
type Initiator struct {
	Type     InitiatorType  `json:"type"               validate:"required,oneof=user api trigger schedule"`
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// File is an attachment handed to an execution.
type File struct {
	Name        string `json:"name"`
	URL         string `json:"url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// ExecutionContext is threaded through every step call. Step outputs
// accumulate in Data under StepContextKey(stepID).
type ExecutionContext struct {
	Initiator Initiator      `json:"initiator"`
	Data      map[string]any `json:"data"`
	Files     []File         `json:"files,omitempty"`
}

// Clone copies the context so concurrent readers never see later merges.
func (c ExecutionContext) Clone() ExecutionContext {
	clone := c
	clone.Data = CloneMap(c.Data)
	clone.Files = append([]File(nil), c.Files...)
	clone.Initiator.Metadata = CloneMap(c.Initiator.Metadata)

	return clone
}

// MergeStepOutput stores a step output under its namespaced key.
func (c *ExecutionContext) MergeStepOutput(stepID string, output map[string]any) {
	if c.Data == nil {
		c.Data = make(map[string]any)
	}

	c.Data[StepContextKey(stepID)] = CloneMap(output)
}
