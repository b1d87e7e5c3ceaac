package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/vincentsider/bolt.new-sub002/pkg/channels/gochannel"
	"github.com/vincentsider/bolt.new-sub002/pkg/channels/kafka"
	"github.com/vincentsider/bolt.new-sub002/pkg/eventbus"
)

// NewEventBus builds the execution event bus for provider. "none" and an empty
// provider disable republishing and return a nil bus.
func NewEventBus(provider string, logger *slog.Logger, brokers string) (*eventbus.Bus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "none":
		return nil, nil
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gochannel pub/sub: %w", err)
		}

		return eventbus.NewBus(logger, pub, sub), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, kafka.ParseBrokers(brokers), "flowcore")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewBus(logger, pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
