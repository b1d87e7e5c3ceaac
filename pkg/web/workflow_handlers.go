package web

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/vincentsider/bolt.new-sub002/pkg/models"
	"github.com/vincentsider/bolt.new-sub002/pkg/persistence"
	"github.com/vincentsider/bolt.new-sub002/pkg/services"
)

// WorkflowHandlers serves workflow definitions and their trigger bindings.
type WorkflowHandlers struct {
	workflows  *services.Workflow
	publishing *services.Publishing
	triggers   *services.Trigger
	validator  *validator.Validate
}

func NewWorkflowHandlers(
	workflows *services.Workflow,
	publishing *services.Publishing,
	triggers *services.Trigger,
	validator *validator.Validate,
) *WorkflowHandlers {
	return &WorkflowHandlers{
		workflows:  workflows,
		publishing: publishing,
		triggers:   triggers,
		validator:  validator,
	}
}

func (h *WorkflowHandlers) Routes(app *fiber.App) {
	w := app.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/publish", h.PublishWorkflow)
	w.Post("/:id/archive", h.ArchiveWorkflow)
	w.Post("/:id/create-draft", h.CreateDraftFromPublished)

	tr := app.Group("/triggers")
	tr.Post("/", h.CreateTrigger)
	tr.Get("/:id", h.GetTrigger)
	tr.Post("/:id/activate", h.ActivateTrigger)
	tr.Post("/:id/deactivate", h.DeactivateTrigger)
	tr.Get("/:id/events", h.GetTriggerEvents)

	tpl := app.Group("/trigger-templates")
	tpl.Put("/:id", h.SaveTemplate)
	tpl.Get("/:id", h.GetTemplate)
}

func (h *WorkflowHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.workflows.ListWorkflows(c.Context(), services.ListWorkflowsRequest{
		TenantID: c.Query("tenant_id"),
		Status:   models.WorkflowStatus(c.Query("status")),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows, "total_count": len(workflows)})
}

func (h *WorkflowHandlers) CreateWorkflow(c fiber.Ctx) error {
	var workflow models.WorkflowDefinition
	if err := c.Bind().JSON(&workflow); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	created, err := h.workflows.Create(c.Context(), &workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *WorkflowHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflows.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *WorkflowHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var workflow models.WorkflowDefinition
	if err := c.Bind().JSON(&workflow); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	updated, err := h.workflows.Update(c.Context(), c.Params("id"), &workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *WorkflowHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.workflows.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *WorkflowHandlers) PublishWorkflow(c fiber.Ctx) error {
	workflow, err := h.publishing.PublishWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *WorkflowHandlers) ArchiveWorkflow(c fiber.Ctx) error {
	workflow, err := h.publishing.ArchiveWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *WorkflowHandlers) CreateDraftFromPublished(c fiber.Ctx) error {
	draft, err := h.publishing.CreateDraftFromPublished(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(draft)
}

func (h *WorkflowHandlers) CreateTrigger(c fiber.Ctx) error {
	var req CreateTriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.triggers.Create(c.Context(), req.ToTrigger())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *WorkflowHandlers) GetTrigger(c fiber.Ctx) error {
	binding, err := h.triggers.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(binding)
}

func (h *WorkflowHandlers) ActivateTrigger(c fiber.Ctx) error {
	return h.setActive(c, true)
}

func (h *WorkflowHandlers) DeactivateTrigger(c fiber.Ctx) error {
	return h.setActive(c, false)
}

func (h *WorkflowHandlers) setActive(c fiber.Ctx, active bool) error {
	binding, err := h.triggers.SetActive(c.Context(), c.Params("id"), active)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(binding)
}

func (h *WorkflowHandlers) GetTriggerEvents(c fiber.Ctx) error {
	events, err := h.triggers.Events(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"events": events, "total_count": len(events)})
}

func (h *WorkflowHandlers) SaveTemplate(c fiber.Ctx) error {
	var template models.TriggerTemplate
	if err := c.Bind().JSON(&template); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	template.ID = c.Params("id")

	saved, err := h.triggers.SaveTemplate(c.Context(), &template)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(saved)
}

func (h *WorkflowHandlers) GetTemplate(c fiber.Ctx) error {
	template, err := h.triggers.FetchTemplate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

// handleServiceError maps service and store errors onto problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow not found")

	case persistence.IsTriggerNotFound(err):
		return notFound(c, "trigger not found")

	case persistence.IsTemplateNotFound(err):
		return notFound(c, "trigger template not found")

	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	default:
		return internalError(c, err)
	}
}
