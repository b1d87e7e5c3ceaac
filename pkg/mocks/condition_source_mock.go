package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockConditionSource is a mock implementation of trigger.ConditionSource interface.
type MockConditionSource struct {
	mock.Mock
}

func (m *MockConditionSource) Evaluate(ctx context.Context, config map[string]any) (bool, map[string]any, error) {
	args := m.Called(ctx, config)

	data, _ := args.Get(1).(map[string]any)

	return args.Bool(0), data, args.Error(2)
}
