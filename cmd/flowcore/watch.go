package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"github.com/vincentsider/bolt.new-sub002/pkg/cmd"
	"github.com/vincentsider/bolt.new-sub002/pkg/log"
	"github.com/vincentsider/bolt.new-sub002/pkg/state"
)

// WatchCommand follows execution events of a running deployment. Events come
// from the event bus when one is configured and from the store change feed
// otherwise.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Log execution events as they happen",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL whose change feed is watched",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "tenant",
				Usage:   "Only watch this tenant",
				Sources: cli.EnvVars("TENANT_ID"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus to consume (none, kafka)",
				Value:   "none",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), "text")

			logger := log.WithModule("watch")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			printEvent := func(ctx context.Context, event state.ExecutionEvent) error {
				tenant := command.String("tenant")
				if tenant != "" && event.TenantID != tenant {
					return nil
				}

				logger.InfoContext(ctx, string(event.Type),
					"execution_id", event.ExecutionID,
					"tenant_id", event.TenantID,
					"step_id", event.StepID,
				)

				return nil
			}

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger, command.String("kafka-brokers"))
			if err != nil {
				return err
			}

			if eventBus != nil {
				defer func() {
					if err := eventBus.Close(); err != nil {
						logger.Error("Failed to close event bus", "error", err)
					}
				}()

				err = eventBus.Subscribe(ctx, printEvent)
				if err != nil {
					return err
				}

				<-ctx.Done()

				return nil
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(context.Background()); err != nil {
					logger.Error("Failed to close persistence", "error", err)
				}
			}()

			manager := state.NewManager(logger)
			defer manager.Subscribe(printEvent)()

			err = manager.Watch(ctx, persistence, command.String("tenant"))
			if err != nil {
				return err
			}

			<-ctx.Done()

			return nil
		},
	}
}
