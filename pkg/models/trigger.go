package models

import "time"

// TriggerType is the closed set of trigger kinds.
type TriggerType string

const (
	TriggerTypeScheduled     TriggerType = "scheduled"
	TriggerTypeEmailReceived TriggerType = "email_received"
	TriggerTypeFileAdded     TriggerType = "file_added"
	TriggerTypeWebhook       TriggerType = "webhook"
	TriggerTypeConditionMet  TriggerType = "condition_met"
)

// TriggerTemplate describes a trigger kind available to workflow authors.
type TriggerTemplate struct {
	ID           string         `json:"id"                      validate:"required"`
	Type         TriggerType    `json:"type"                    validate:"required,oneof=scheduled email_received file_added webhook condition_met"`
	Name         string         `json:"name"                    validate:"required"`
	Description  string         `json:"description"`
	ConfigSchema map[string]any `json:"config_schema,omitempty"`
}

// WorkflowTrigger binds a template to one workflow.
type WorkflowTrigger struct {
	ID              string         `json:"id"                          validate:"required"`
	TenantID        string         `json:"tenant_id"                   validate:"required"`
	WorkflowID      string         `json:"workflow_id"                 validate:"required"`
	TemplateID      string         `json:"template_id"`
	Type            TriggerType    `json:"type"                        validate:"required,oneof=scheduled email_received file_added webhook condition_met"`
	Name            string         `json:"name"                        validate:"required"`
	Config          map[string]any `json:"config"`
	Active          bool           `json:"active"`
	LastTriggeredAt *time.Time     `json:"last_triggered_at,omitempty"`
	TriggerCount    int64          `json:"trigger_count"`
	ErrorCount      int64          `json:"error_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// MonitorStatus is the health of a trigger monitor.
type MonitorStatus string

const (
	MonitorStatusHealthy  MonitorStatus = "healthy"
	MonitorStatusWarning  MonitorStatus = "warning"
	MonitorStatusError    MonitorStatus = "error"
	MonitorStatusDisabled MonitorStatus = "disabled"
)

// TriggerMonitor is per-trigger scheduling state.
type TriggerMonitor struct {
	TriggerID     string        `json:"trigger_id"`
	Active        bool          `json:"active"`
	LastCheck     time.Time     `json:"last_check"`
	NextCheck     time.Time     `json:"next_check"`
	Status        MonitorStatus `json:"status"`
	CheckInterval time.Duration `json:"check_interval"`
	ErrorMessage  string        `json:"error_message,omitempty"`
}

// TriggerEvent is an append-only record of one firing.
type TriggerEvent struct {
	ID                 string         `json:"id"`
	TriggerID          string         `json:"trigger_id"`
	TenantID           string         `json:"tenant_id"`
	EventType          string         `json:"event_type"`
	EventData          map[string]any `json:"event_data"`
	Timestamp          time.Time      `json:"timestamp"`
	Processed          bool           `json:"processed"`
	WorkflowInstanceID string         `json:"workflow_instance_id,omitempty"`
	Error              string         `json:"error,omitempty"`
}
