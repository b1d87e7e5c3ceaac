package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"github.com/vincentsider/bolt.new-sub002/pkg/cmd"
	"github.com/vincentsider/bolt.new-sub002/pkg/engine"
	"github.com/vincentsider/bolt.new-sub002/pkg/errorhandler"
	"github.com/vincentsider/bolt.new-sub002/pkg/log"
	"github.com/vincentsider/bolt.new-sub002/pkg/otelhelper"
	"github.com/vincentsider/bolt.new-sub002/pkg/state"
	"github.com/vincentsider/bolt.new-sub002/pkg/trigger"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPort     = 9091
	shutdownTimeout = 30 * time.Second
)

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the execution engine, the trigger monitor and the API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL (memory://, file://<dir>, postgres://...)",
				Value:   "memory://",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus used to republish execution events (none, gochannel, kafka)",
				Value:   "none",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL failure notifications are published to",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-channel",
				Usage:   "Redis channel for failure notifications",
				Sources: cli.EnvVars("REDIS_CHANNEL"),
			},
			&cli.StringSliceFlag{
				Name:    "alert-recipients",
				Usage:   "Recipients of critical workflow failure alerts",
				Sources: cli.EnvVars("ALERT_RECIPIENTS"),
			},
			&cli.DurationFlag{
				Name:    "reconcile-interval",
				Usage:   "How often active triggers are reconciled against the store",
				Value:   trigger.DefaultReconcileInterval,
				Sources: cli.EnvVars("RECONCILE_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "file-trigger-root",
				Usage:   "Directory file triggers are confined to",
				Sources: cli.EnvVars("FILE_TRIGGER_ROOT"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("flowcore")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing flowcore")

			engineOpts := make([]engine.Option, 0)
			triggerOpts := []trigger.Option{
				trigger.WithFileSource(trigger.DirectorySource{Root: command.String("file-trigger-root")}),
			}

			if command.Bool("otel-enabled") {
				tracer, shutdownTracer, err := otelhelper.NewTracer(ctx, "flowcore")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				defer func() {
					if err := shutdownTracer(context.Background()); err != nil {
						logger.Error("Failed to shutdown tracer provider", "error", err)
					}
				}()

				engineOpts = append(engineOpts, engine.WithTracer(tracer))
				triggerOpts = append(triggerOpts, trigger.WithTracer(tracer))
			}

			registry, err := cmd.NewRegistry(logger)
			if err != nil {
				return err
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

			notifier, closeNotifier, err := cmd.NewNotifier(ctx, logger,
				command.String("redis-url"), command.String("redis-channel"))
			if err != nil {
				return err
			}

			defer func() {
				if err := closeNotifier(); err != nil {
					logger.Error("Failed to close notifier", "error", err)
				}
			}()

			manager := state.NewManager(logger)

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger, command.String("kafka-brokers"))
			if err != nil {
				return err
			}

			if eventBus != nil {
				unsubscribe := manager.Subscribe(eventBus.Listener())
				defer unsubscribe()

				defer func() {
					if err := eventBus.Close(); err != nil {
						logger.Error("Failed to close event bus", "error", err)
					}
				}()
			}

			handler := errorhandler.NewHandler(logger, notifier,
				errorhandler.WithCompensators(registry),
				errorhandler.WithRollbackStore(persistence.ExecutionRepository()),
				errorhandler.WithAlertRecipients(command.StringSlice("alert-recipients")...),
			)

			eng := engine.NewEngine(logger, persistence, registry, handler,
				append(engineOpts, engine.WithObserver(manager))...)

			monitor := trigger.NewMonitorService(logger, persistence.TriggerRepository(),
				func(tenantID string) *trigger.Engine {
					return trigger.NewEngine(logger, tenantID, persistence.TriggerRepository(), eng, triggerOpts...)
				},
				trigger.WithReconcileInterval(command.Duration("reconcile-interval")),
			)

			background, err := startBackground(ctx, manager, persistence, monitor)
			if err != nil {
				return err
			}

			api := NewAPI(logger, eng, manager, monitor, persistence)
			app := api.App()

			serverDone := make(chan error, 1)

			go func() { serverDone <- app.Listen(":" + strconv.Itoa(int(command.Int("port")))) }()

			select {
			case <-ctx.Done():
			case err = <-serverDone:
				logger.Error("API server stopped", "error", err)
				stop()
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := app.ShutdownWithContext(shutdownCtx); err != nil {
				logger.Error("Failed to shutdown API server", "error", err)
			}

			if err := background.Wait(); err != nil {
				logger.Error("Background services failed", "error", err)
			}

			if err := eng.Shutdown(shutdownCtx); err != nil {
				logger.Error("Failed to shutdown engine", "error", err)
			}

			logger.Info("flowcore stopped")

			return err
		},
	}
}

// startBackground mirrors the store change feed of every tenant into manager,
// so executions written by other processes are tracked too, and runs the
// trigger monitor until ctx is done.
func startBackground(
	ctx context.Context,
	manager *state.Manager,
	feed state.ChangeFeed,
	monitor *trigger.MonitorService,
) (*errgroup.Group, error) {
	err := manager.Watch(ctx, feed, "")
	if err != nil {
		return nil, err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return monitor.Run(ctx) })

	return group, nil
}
