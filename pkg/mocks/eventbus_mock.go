package mocks

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/mock"
)

// MockPublisher is a mock implementation of watermill's message.Publisher interface.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(topic string, messages ...*message.Message) error {
	args := m.Called(topic, messages)

	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	args := m.Called()

	return args.Error(0)
}
