package eventbus_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vincentsider/bolt.new-sub002/pkg/channels/gochannel"
	"github.com/vincentsider/bolt.new-sub002/pkg/eventbus"
	"github.com/vincentsider/bolt.new-sub002/pkg/mocks"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/state"
)

func TestBus_RepublishesManagerEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateTestChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewBus(logger, pub, sub)

	defer func() { _ = bus.Close() }()

	var (
		mu       sync.Mutex
		received []state.ExecutionEvent
	)

	require.NoError(t, bus.Subscribe(ctx, func(_ context.Context, event state.ExecutionEvent) error {
		mu.Lock()
		defer mu.Unlock()

		received = append(received, event)

		return nil
	}))

	manager := state.NewManager(logger)
	manager.Subscribe(bus.Listener())

	manager.ApplyExecution(ctx, &models.WorkflowExecution{
		ID: "exec-1", TenantID: "acme", WorkflowID: "wf-1", Status: models.ExecutionStatusRunning, Revision: 1,
	})
	manager.ApplyStep(ctx, &models.StepExecution{
		ExecutionID: "exec-1", TenantID: "acme", StepID: "capture", Status: models.StepStatusInProgress, Revision: 1,
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, state.EventExecutionStarted, received[0].Type)
	assert.Equal(t, "acme", received[0].TenantID)
	require.NotNil(t, received[0].Execution)
	assert.Equal(t, "wf-1", received[0].Execution.WorkflowID)

	assert.Equal(t, state.EventStepStarted, received[1].Type)
	assert.Equal(t, "capture", received[1].StepID)
}

func TestBus_PublishFailure(t *testing.T) {
	publisher := &mocks.MockPublisher{}
	publisher.On("Publish", eventbus.Topic, mock.MatchedBy(func(msgs []*message.Message) bool {
		return len(msgs) == 1 &&
			msgs[0].Metadata.Get(eventbus.EventTypeMetadataKey) == string(state.EventStepFailed) &&
			msgs[0].Metadata.Get(eventbus.ExecutionIDMetadataKey) == "exec-1"
	})).Return(errors.New("broker unavailable")).Once()

	bus := eventbus.NewBus(slog.New(slog.NewTextHandler(os.Stdout, nil)), publisher, nil)

	err := bus.Publish(context.Background(), state.ExecutionEvent{
		Type:        state.EventStepFailed,
		TenantID:    "acme",
		ExecutionID: "exec-1",
		StepID:      "approve",
		Timestamp:   time.Now(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")

	publisher.AssertExpectations(t)
}
