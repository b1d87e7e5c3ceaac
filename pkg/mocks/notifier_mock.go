package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockNotifier is a mock implementation of errorhandler.Notifier interface.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendEmail(ctx context.Context, recipients []string, message string) error {
	args := m.Called(ctx, recipients, message)

	return args.Error(0)
}

func (m *MockNotifier) SendChatMessage(ctx context.Context, recipients []string, message string) error {
	args := m.Called(ctx, recipients, message)

	return args.Error(0)
}

func (m *MockNotifier) SendWebhook(ctx context.Context, urls []string, message string) error {
	args := m.Called(ctx, urls, message)

	return args.Error(0)
}
