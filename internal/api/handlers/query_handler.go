package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docrouter/backend/internal/middleware/validation"
	"github.com/docrouter/backend/internal/query"
	"github.com/docrouter/backend/internal/storage/models"
	"github.com/docrouter/backend/pkg/logger"
)

type QueryProcessor interface {
	ProcessQuery(ctx context.Context, req query.QueryRequest) (*query.QueryResponse, error)
}

type QueryHistory interface {
	GetSessionHistory(ctx context.Context, sessionID string, limit int) ([]models.QueryRecord, error)
}

type QueryHandler struct {
	queryEngine QueryProcessor
	history     QueryHistory
}

func NewQueryHandler(queryEngine QueryProcessor, history QueryHistory) *QueryHandler {
	return &QueryHandler{
		queryEngine: queryEngine,
		history:     history,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req query.QueryRequest

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}

	req.Query = validation.Sanitize(req.Query)
	if req.Query == "" {
		return errorResponse(c, fiber.StatusBadRequest, "Query is required")
	}
	if req.UserID == "" {
		req.UserID = c.Get("X-User-ID")
	}

	response, err := h.queryEngine.ProcessQuery(c.UserContext(), req)
	if errors.Is(err, query.ErrEmptyQuery) {
		return errorResponse(c, fiber.StatusBadRequest, "Query is required")
	}
	if err != nil {
		logger.Error("Failed to process query", zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to process query")
	}

	return c.JSON(response)
}

func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return errorResponse(c, fiber.StatusBadRequest, "session_id is required")
	}

	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	records, err := h.history.GetSessionHistory(c.UserContext(), sessionID, limit)
	if err != nil {
		logger.Error("Failed to load query history", zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to load query history")
	}

	history := make([]fiber.Map, len(records))
	for i, r := range records {
		history[i] = fiber.Map{
			"id":           r.ID,
			"query":        r.QueryText,
			"answer":       r.Response,
			"categories":   r.Categories,
			"routing_mode": r.RoutingMode,
			"follow_up":    r.FollowUp,
			"sources":      r.SourceCount,
			"latency_ms":   r.LatencyMS,
			"created_at":   r.CreatedAt,
		}
	}

	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"history":    history,
	})
}
