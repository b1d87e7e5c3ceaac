package trigger

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ValidateTrigger checks a binding the way StartMonitoring would, without
// monitoring it. Source availability is not checked.
func ValidateTrigger(validate *validator.Validate, trigger *models.WorkflowTrigger, template *models.TriggerTemplate) error {
	err := validate.Struct(trigger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	err = validateAgainstTemplate(trigger, template)
	if err != nil {
		return err
	}

	switch trigger.Type {
	case models.TriggerTypeScheduled:
		_, err = ParseSchedule(trigger.Config)
	case models.TriggerTypeFileAdded:
		_, err = newFileFilter(trigger.Config)
	}

	return err
}

// validateAgainstTemplate checks that the trigger matches its template's type
// and that its config satisfies the template's JSON schema.
func validateAgainstTemplate(trigger *models.WorkflowTrigger, template *models.TriggerTemplate) error {
	if template == nil {
		return nil
	}

	if template.Type != trigger.Type {
		return fmt.Errorf("%w: trigger %s is %s but template %s is %s",
			ErrInvalidConfig, trigger.ID, trigger.Type, template.ID, template.Type)
	}

	if len(template.ConfigSchema) == 0 {
		return nil
	}

	config := trigger.Config
	if config == nil {
		config = map[string]any{}
	}

	err := validateSchema(gojsonschema.NewGoLoader(template.ConfigSchema), gojsonschema.NewGoLoader(config))
	if err != nil {
		return fmt.Errorf("%w: trigger %s: %w", ErrInvalidConfig, trigger.ID, err)
	}

	return nil
}

func validateSchema(schema, document gojsonschema.JSONLoader) error {
	result, err := gojsonschema.Validate(schema, document)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}

	return fmt.Errorf("document does not match schema: %s", strings.Join(messages, "; "))
}
