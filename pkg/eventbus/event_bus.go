// Package eventbus republishes execution events onto a watermill topic so observers
// outside the process see the same stream as in-process listeners.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/vincentsider/bolt.new-sub002/pkg/state"
)

const (
	// Topic carries every execution event.
	Topic = "flowcore.execution_events"

	EventTypeMetadataKey   = "event_type"
	ExecutionIDMetadataKey = "execution_id"
	TenantIDMetadataKey    = "tenant_id"
)

// EventHandler consumes one decoded event. Returning an error nacks the message.
type EventHandler func(ctx context.Context, event state.ExecutionEvent) error

// Bus bridges state.ExecutionEvent values to a watermill publisher and subscriber.
type Bus struct {
	logger     *slog.Logger
	publisher  message.Publisher
	subscriber message.Subscriber
}

func NewBus(logger *slog.Logger, pub message.Publisher, sub message.Subscriber) *Bus {
	return &Bus{
		logger:     logger.With("module", "eventbus"),
		publisher:  pub,
		subscriber: sub,
	}
}

func (b *Bus) GenerateID() string {
	return watermill.NewULID()
}

// Publish encodes the event as JSON and sends it to Topic.
func (b *Bus) Publish(ctx context.Context, event state.ExecutionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal execution event: %w", err)
	}

	msg := message.NewMessage("msg-"+b.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(EventTypeMetadataKey, string(event.Type))
	msg.Metadata.Set(ExecutionIDMetadataKey, event.ExecutionID)
	msg.Metadata.Set(TenantIDMetadataKey, event.TenantID)

	err = b.publisher.Publish(Topic, msg)
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	return nil
}

// Listener adapts Publish to a state manager listener.
func (b *Bus) Listener() state.Listener {
	return b.Publish
}

// Subscribe starts consuming Topic in the background until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, handler EventHandler) error {
	messages, err := b.subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", Topic, err)
	}

	go func() {
		for msg := range messages {
			var event state.ExecutionEvent

			err := json.Unmarshal(msg.Payload, &event)
			if err != nil {
				b.logger.ErrorContext(ctx, "dropping undecodable event", "message_id", msg.UUID, "error", err)
				msg.Ack()

				continue
			}

			err = handler(ctx, event)
			if err != nil {
				b.logger.ErrorContext(ctx, "event handler failed",
					"event", event.Type, "execution_id", event.ExecutionID, "error", err)
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (b *Bus) Close() error {
	err := b.publisher.Close()
	if err != nil {
		return err
	}

	return b.subscriber.Close()
}
