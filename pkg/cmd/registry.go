// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/vincentsider/bolt.new-sub002/pkg/registry"
	"github.com/vincentsider/bolt.new-sub002/pkg/steps"
)

// NewRegistry returns a step registry holding the built-in step executors.
func NewRegistry(log *slog.Logger) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)

	err := steps.RegisterDefaults(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register built-in steps: %w", err)
	}

	return reg, nil
}
