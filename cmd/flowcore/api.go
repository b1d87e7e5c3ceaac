package main

import (
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/vincentsider/bolt.new-sub002/pkg/engine"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
	"github.com/vincentsider/bolt.new-sub002/pkg/services"
	"github.com/vincentsider/bolt.new-sub002/pkg/state"
	"github.com/vincentsider/bolt.new-sub002/pkg/trigger"
	"github.com/vincentsider/bolt.new-sub002/pkg/web"
)

type API struct {
	logger      *slog.Logger
	engine      *engine.Engine
	state       *state.Manager
	monitor     *trigger.MonitorService
	persistence persistence.Persistence
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	engine *engine.Engine,
	state *state.Manager,
	monitor *trigger.MonitorService,
	persistence persistence.Persistence,
) *API {
	return &API{
		logger:      logger,
		engine:      engine,
		state:       state,
		monitor:     monitor,
		persistence: persistence,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.engine, a.state, a.monitor, a.persistence, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("flowcore")
	})

	handlers.Routes(app)
	web.NewWorkflowHandlers(
		services.NewWorkflow(a.persistence, a.validate),
		services.NewPublishing(a.persistence, a.validate),
		services.NewTrigger(a.persistence, a.validate),
		a.validate,
	).Routes(app)

	return app
}
