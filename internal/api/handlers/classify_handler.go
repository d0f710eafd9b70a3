package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docrouter/backend/internal/classifier"
	"github.com/docrouter/backend/internal/middleware/validation"
	"github.com/docrouter/backend/pkg/logger"
)

type ClassifyHandler struct {
	classifier classifier.Classifier
}

func NewClassifyHandler(cls classifier.Classifier) *ClassifyHandler {
	return &ClassifyHandler{classifier: cls}
}

func (h *ClassifyHandler) Classify(c *fiber.Ctx) error {
	var req struct {
		Text string `json:"text"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}

	text := validation.Sanitize(req.Text)
	if text == "" {
		return errorResponse(c, fiber.StatusBadRequest, "Text is required")
	}

	result, err := h.classifier.Classify(c.UserContext(), text)
	if err != nil {
		logger.Error("Failed to classify text", zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to classify text")
	}

	return c.JSON(fiber.Map{
		"category":      result.Category,
		"confidence":    result.Confidence,
		"reasoning":     result.Reasoning,
		"classifier":    result.Classifier,
		"processing_ms": result.ProcessingTime.Milliseconds(),
	})
}

func errorResponse(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}
