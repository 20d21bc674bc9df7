// Package web provides HTTP handlers and REST API endpoints for workflow executions.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/orderflow/pkg/models"
	"github.com/dukex/orderflow/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	executionService *services.Execution
	validator        *validator.Validate
}

func NewAPIHandlers(executionService *services.Execution, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		executionService: executionService,
		validator:        validator,
	}
}

// RegisterRoutes mounts every admin endpoint on app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	w := app.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/:name/run", h.RunWorkflow)

	e := app.Group("/executions")
	e.Get("/", h.GetExecutions)
	e.Get("/:id", h.GetExecution)
	e.Get("/:id/steps", h.GetExecutionSteps)
	e.Post("/:id/pause", h.PauseExecution)
	e.Post("/:id/resume", h.ResumeExecution)
	e.Post("/:id/cancel", h.CancelExecution)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, ok := h.executionService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Orderflow API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if ok {
		status = "healthy"
		message = "Orderflow API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	return c.JSON(h.executionService.Workflows())
}

func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	var req RunWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	response, err := h.executionService.Run(c.Context(), services.RunRequest{
		Workflow:       c.Params("name"),
		Input:          req.Input,
		IdempotencyKey: req.IdempotencyKey,
		CorrelationID:  req.CorrelationID,
		TimeoutSeconds: req.TimeoutSeconds,
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(runStatus(response)).JSON(response)
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	req, err := h.parseListExecutionsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	executions, err := h.executionService.List(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions": TransformExecutionsResponse(executions),
		"count":      len(executions),
		"limit":      req.Limit,
	})
}

// parseListExecutionsRequest parses query parameters for listing executions.
func (h *APIHandlers) parseListExecutionsRequest(c fiber.Ctx) (*services.ListExecutionsRequest, error) {
	req := &services.ListExecutionsRequest{
		WorkflowName:      c.Query("workflow"),
		Status:            c.Query("status"),
		CorrelationID:     c.Query("correlation_id"),
		ParentExecutionID: c.Query("parent_execution_id"),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if includeDeletedStr := c.Query("include_deleted"); includeDeletedStr != "" {
		includeDeleted, err := strconv.ParseBool(includeDeletedStr)
		if err != nil {
			return nil, err
		}

		req.IncludeDeleted = includeDeleted
	}

	return req, nil
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.executionService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(TransformExecutionResponse(execution))
}

func (h *APIHandlers) GetExecutionSteps(c fiber.Ctx) error {
	steps, err := h.executionService.Steps(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(steps)
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	err := h.executionService.Pause(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	response, err := h.executionService.Resume(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(runStatus(response)).JSON(response)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	err := h.executionService.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// runStatus maps a run outcome to a status code. Failed workflows are 422
// so clients can tell them from transport errors.
func runStatus(response *services.RunResponse) int {
	switch {
	case response.Succeeded():
		return fiber.StatusOK
	case response.Status == models.ExecutionStatusPaused:
		return fiber.StatusAccepted
	default:
		return fiber.StatusUnprocessableEntity
	}
}
