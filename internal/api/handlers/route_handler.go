package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docrouter/backend/internal/middleware/validation"
	"github.com/docrouter/backend/internal/routing"
	"github.com/docrouter/backend/pkg/logger"
)

type Decider interface {
	Decide(ctx context.Context, query, sessionID string) routing.Decision
}

type RouteHandler struct {
	router Decider
}

func NewRouteHandler(router Decider) *RouteHandler {
	return &RouteHandler{router: router}
}

func (h *RouteHandler) Route(c *fiber.Ctx) error {
	var req struct {
		Query     string `json:"query"`
		SessionID string `json:"session_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}

	query := validation.Sanitize(req.Query)
	if query == "" {
		return errorResponse(c, fiber.StatusBadRequest, "Query is required")
	}

	decision := h.router.Decide(c.UserContext(), query, req.SessionID)

	return c.JSON(fiber.Map{
		"query":        query,
		"categories":   decision.Categories,
		"similarities": decision.Similarities,
		"follow_up":    decision.FollowUp,
		"mode":         decision.Mode,
		"session_id":   req.SessionID,
	})
}
