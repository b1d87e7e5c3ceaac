package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v3"
	"github.com/vincentsider/bolt.new-sub002/pkg/log"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
)

var ErrMissingDefinition = errors.New("a workflow definition file is required")

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate a workflow definition file",
		ArgsUsage: "<definition.json>",
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("validate")

			path := command.Args().First()
			if path == "" {
				return ErrMissingDefinition
			}

			definition, err := loadDefinition(path)
			if err != nil {
				return err
			}

			err = definition.Validate(validator.New(validator.WithRequiredStructEnabled()))
			if err != nil {
				logger.ErrorContext(ctx, "Workflow definition is invalid", "path", path, "error", err)

				return err
			}

			logger.InfoContext(ctx, "Workflow definition is valid",
				"path", path,
				"workflow_id", definition.ID,
				"steps", len(definition.Steps),
				"entry_steps", definition.EntrySteps(),
			)

			return nil
		},
	}
}

func loadDefinition(path string) (*models.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var definition models.WorkflowDefinition

	err = json.Unmarshal(data, &definition)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return &definition, nil
}
