package trigger

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
)

func TestValidateTrigger(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	webhookTemplate := &models.TriggerTemplate{
		ID:   "tpl-webhook",
		Type: models.TriggerTypeWebhook,
		Name: "Webhook",
		ConfigSchema: map[string]any{
			"type":     "object",
			"required": []any{"authentication"},
		},
	}

	tests := []struct {
		name     string
		trigger  *models.WorkflowTrigger
		template *models.TriggerTemplate
		valid    bool
	}{
		{
			name:    "daily schedule",
			trigger: newTrigger("t-1", models.TriggerTypeScheduled, map[string]any{"schedule_type": "daily", "time": "09:30"}),
			valid:   true,
		},
		{
			name:    "bad schedule time",
			trigger: newTrigger("t-2", models.TriggerTypeScheduled, map[string]any{"schedule_type": "daily", "time": "25:00"}),
		},
		{
			name:    "bad file pattern",
			trigger: newTrigger("t-3", models.TriggerTypeFileAdded, map[string]any{"path": "in", "filename_pattern": "("}),
		},
		{
			name:    "email without source is still a valid binding",
			trigger: newTrigger("t-4", models.TriggerTypeEmailReceived, nil),
			valid:   true,
		},
		{
			name:     "schema satisfied",
			trigger:  newTrigger("t-5", models.TriggerTypeWebhook, map[string]any{"authentication": map[string]any{"type": "bearer"}}),
			template: webhookTemplate,
			valid:    true,
		},
		{
			name:     "schema violated",
			trigger:  newTrigger("t-6", models.TriggerTypeWebhook, nil),
			template: webhookTemplate,
		},
		{
			name:    "missing name",
			trigger: &models.WorkflowTrigger{ID: "t-7", TenantID: "acme", WorkflowID: "wf", Type: models.TriggerTypeWebhook},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTrigger(validate, tt.trigger, tt.template)
			if tt.valid {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.True(t, IsInvalidConfig(err), err)
		})
	}
}
