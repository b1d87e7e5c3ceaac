// Package web provides HTTP handlers for execution control and webhook ingress.
package web

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/vincentsider/bolt.new-sub002/pkg/engine"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
	"github.com/vincentsider/bolt.new-sub002/pkg/state"
	"github.com/vincentsider/bolt.new-sub002/pkg/trigger"
)

type APIHandlers struct {
	engine      *engine.Engine
	state       *state.Manager
	monitor     *trigger.MonitorService
	persistence persistence.Persistence
	validator   *validator.Validate
}

func NewAPIHandlers(
	engine *engine.Engine,
	state *state.Manager,
	monitor *trigger.MonitorService,
	persistence persistence.Persistence,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engine:      engine,
		state:       state,
		monitor:     monitor,
		persistence: persistence,
		validator:   validator,
	}
}

// Routes mounts every handler on app.
func (h *APIHandlers) Routes(app *fiber.App) {
	e := app.Group("/executions")
	e.Post("/", h.StartExecution)
	e.Get("/active", h.GetActiveExecutions)
	e.Get("/completed", h.GetCompletedExecutions)
	e.Get("/:id", h.GetExecution)
	e.Get("/:id/steps", h.GetExecutionSteps)
	e.Get("/:id/metrics", h.GetExecutionMetrics)
	e.Post("/:id/pause", h.PauseExecution)
	e.Post("/:id/resume", h.ResumeExecution)
	e.Post("/:id/cancel", h.CancelExecution)

	app.All("/webhooks/:triggerId", h.ReceiveWebhook)

	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK
	repository := fiber.Map{"status": "healthy"}

	err := h.persistence.HealthCheck(c.Context())
	if err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
		repository = fiber.Map{"status": "unhealthy", "error": err.Error()}
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repository,
		},
		"active_executions": len(h.engine.ActiveExecutions()),
		"trigger_tenants":   h.monitor.Engines(),
		"timestamp":         time.Now().UTC(),
	})
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	executionID, err := h.engine.Start(c.Context(), req.ToStartRequest())
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartExecutionResponse{ExecutionID: executionID})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")

	status, err := h.engine.GetStatus(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	response := ExecutionDetailResponse{ExecutionStatus: status}

	if metrics, ok := h.state.GetMetrics(id); ok {
		response.Metrics = metrics
	}

	return c.JSON(response)
}

// GetExecutionSteps serves the state manager's history, falling back to the
// store for executions evicted from the completed ring.
func (h *APIHandlers) GetExecutionSteps(c fiber.Ctx) error {
	id := c.Params("id")

	steps := h.state.StepHistory(id)
	if len(steps) > 0 {
		return c.JSON(fiber.Map{"steps": steps})
	}

	status, err := h.engine.GetStatus(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"steps": status.Steps})
}

func (h *APIHandlers) GetExecutionMetrics(c fiber.Ctx) error {
	metrics, ok := h.state.GetMetrics(c.Params("id"))
	if !ok {
		return notFound(c, "No metrics for execution")
	}

	return c.JSON(metrics)
}

func (h *APIHandlers) GetActiveExecutions(c fiber.Ctx) error {
	return c.JSON(newExecutionList(h.state.GetActiveExecutions()))
}

func (h *APIHandlers) GetCompletedExecutions(c fiber.Ctx) error {
	return c.JSON(newExecutionList(h.state.GetCompletedExecutions()))
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	return h.control(c, h.engine.Pause)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	return h.control(c, h.engine.Resume)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	return h.control(c, h.engine.Cancel)
}

func (h *APIHandlers) control(c fiber.Ctx, transition func(ctx context.Context, executionID string) error) error {
	id := c.Params("id")

	err := transition(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	status, err := h.engine.GetStatus(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(status.Execution)
}

// ReceiveWebhook hands an inbound call to the trigger monitor. The response is
// sent once the execution is created.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	headers := make(map[string]string)
	for key, values := range c.GetReqHeaders() {
		headers[key] = strings.Join(values, ", ")
	}

	result := h.monitor.ProcessWebhook(c.Context(), trigger.WebhookRequest{
		TriggerID: c.Params("triggerId"),
		Method:    c.Method(),
		Headers:   headers,
		Body:      bytes.Clone(c.Body()),
	})

	switch {
	case result.Success:
		return c.Status(fiber.StatusAccepted).JSON(result)
	case result.Message == trigger.WebhookNotFound:
		return c.Status(fiber.StatusNotFound).JSON(result)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(result)
	}
}
