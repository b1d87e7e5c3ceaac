// Package web provides HTTP request and response types for the execution API.
package web

import (
	"github.com/vincentsider/bolt.new-sub002/pkg/engine"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/state"
)

// StartExecutionRequest represents the request body for starting an execution.
type StartExecutionRequest struct {
	WorkflowID string            `json:"workflow_id"         validate:"required"`
	Initiator  *InitiatorRequest `json:"initiator,omitempty"`
	Data       map[string]any    `json:"data"`
	Files      []models.File     `json:"files,omitempty"`
}

// InitiatorRequest identifies who started an execution. The type defaults to api.
type InitiatorRequest struct {
	Type     string         `json:"type"               validate:"omitempty,oneof=user api"`
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StartExecutionResponse is returned once the execution is created, not when it finishes.
type StartExecutionResponse struct {
	ExecutionID string `json:"execution_id"`
}

// ExecutionListResponse wraps a list of executions.
type ExecutionListResponse struct {
	Executions []*models.WorkflowExecution `json:"executions"`
	TotalCount int                         `json:"total_count"`
}

// ExecutionDetailResponse is the status of one execution with its live metrics.
type ExecutionDetailResponse struct {
	*engine.ExecutionStatus
	Metrics *state.ExecutionMetrics `json:"metrics,omitempty"`
}

// ToStartRequest converts the request body into an engine start request.
// Trigger and schedule initiators are reserved for the trigger engine.
func (r StartExecutionRequest) ToStartRequest() engine.StartRequest {
	initiator := models.Initiator{Type: models.InitiatorAPI}

	if r.Initiator != nil {
		initiator.ID = r.Initiator.ID
		initiator.Metadata = r.Initiator.Metadata

		if r.Initiator.Type != "" {
			initiator.Type = models.InitiatorType(r.Initiator.Type)
		}
	}

	data := r.Data
	if data == nil {
		data = make(map[string]any)
	}

	return engine.StartRequest{
		WorkflowID: r.WorkflowID,
		Initiator:  initiator,
		Data:       data,
		Files:      r.Files,
	}
}

func newExecutionList(executions []*models.WorkflowExecution) ExecutionListResponse {
	return ExecutionListResponse{Executions: executions, TotalCount: len(executions)}
}

// CreateTriggerRequest binds a trigger to a workflow. Active defaults to true.
type CreateTriggerRequest struct {
	ID         string         `json:"id,omitempty"`
	WorkflowID string         `json:"workflow_id"           validate:"required"`
	TenantID   string         `json:"tenant_id,omitempty"`
	TemplateID string         `json:"template_id,omitempty"`
	Type       string         `json:"type,omitempty"        validate:"omitempty,oneof=scheduled email_received file_added webhook condition_met"`
	Name       string         `json:"name"                  validate:"required"`
	Config     map[string]any `json:"config,omitempty"`
	Active     *bool          `json:"active,omitempty"`
}

func (r CreateTriggerRequest) ToTrigger() *models.WorkflowTrigger {
	active := true
	if r.Active != nil {
		active = *r.Active
	}

	return &models.WorkflowTrigger{
		ID:         r.ID,
		TenantID:   r.TenantID,
		WorkflowID: r.WorkflowID,
		TemplateID: r.TemplateID,
		Type:       models.TriggerType(r.Type),
		Name:       r.Name,
		Config:     r.Config,
		Active:     active,
	}
}
