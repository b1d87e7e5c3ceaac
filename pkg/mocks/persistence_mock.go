package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
)

// MockTriggerRepository is a mock implementation of persistence.TriggerRepository interface.
type MockTriggerRepository struct {
	mock.Mock
}

func (m *MockTriggerRepository) SaveTemplate(ctx context.Context, template *models.TriggerTemplate) error {
	args := m.Called(ctx, template)

	return args.Error(0)
}

func (m *MockTriggerRepository) GetTemplate(ctx context.Context, id string) (*models.TriggerTemplate, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.TriggerTemplate), args.Error(1)
}

func (m *MockTriggerRepository) SaveTrigger(ctx context.Context, trigger *models.WorkflowTrigger) error {
	args := m.Called(ctx, trigger)

	return args.Error(0)
}

func (m *MockTriggerRepository) GetTrigger(ctx context.Context, id string) (*models.WorkflowTrigger, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowTrigger), args.Error(1)
}

func (m *MockTriggerRepository) ListActiveTriggers(ctx context.Context) ([]*models.WorkflowTrigger, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowTrigger), args.Error(1)
}

func (m *MockTriggerRepository) SaveEvent(ctx context.Context, event *models.TriggerEvent) error {
	args := m.Called(ctx, event)

	return args.Error(0)
}

func (m *MockTriggerRepository) ListEvents(ctx context.Context, triggerID string) ([]*models.TriggerEvent, error) {
	args := m.Called(ctx, triggerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.TriggerEvent), args.Error(1)
}
