package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docrouter/backend/internal/category"
	"github.com/docrouter/backend/internal/ingestion"
	"github.com/docrouter/backend/internal/storage/models"
	"github.com/docrouter/backend/internal/storage/sqlite"
	"github.com/docrouter/backend/pkg/logger"
)

type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, input ingestion.DocumentInput) (*ingestion.IngestResult, error)
}

type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, cat category.Category, limit int) ([]models.Document, error)
	CategoryStats(ctx context.Context) ([]models.CategoryStats, error)
}

type DocumentHandler struct {
	processor DocumentProcessor
	store     DocumentStore
}

func NewDocumentHandler(processor DocumentProcessor, store DocumentStore) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
		store:     store,
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req ingestion.DocumentInput

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if req.Filename == "" || req.Content == "" {
		return errorResponse(c, fiber.StatusBadRequest, "Filename and content are required")
	}

	result, err := h.processor.ProcessDocument(c.UserContext(), req)
	if errors.Is(err, ingestion.ErrEmptyDocument) {
		return errorResponse(c, fiber.StatusUnprocessableEntity, "Document has no text content")
	}
	if err != nil {
		logger.Error("Failed to process document", zap.String("filename", req.Filename), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to process document")
	}

	status := fiber.StatusCreated
	if result.Duplicate {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(result)
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	var cat category.Category
	if raw := c.Query("category"); raw != "" {
		parsed, ok := category.Parse(raw)
		if !ok {
			return errorResponse(c, fiber.StatusBadRequest, "Unknown category")
		}
		cat = parsed
	}

	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	docs, err := h.store.ListDocuments(c.UserContext(), cat, limit)
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to list documents")
	}

	out := make([]fiber.Map, len(docs))
	for i := range docs {
		out[i] = documentJSON(&docs[i])
	}

	return c.JSON(fiber.Map{
		"documents": out,
		"count":     len(out),
	})
}

func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	doc, err := h.store.GetDocument(c.UserContext(), c.Params("id"))
	if errors.Is(err, sqlite.ErrNotFound) {
		return errorResponse(c, fiber.StatusNotFound, "Document not found")
	}
	if err != nil {
		logger.Error("Failed to get document", zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to get document")
	}

	return c.JSON(documentJSON(doc))
}

func (h *DocumentHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.store.CategoryStats(c.UserContext())
	if err != nil {
		logger.Error("Failed to collect stats", zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to collect stats")
	}

	var totalDocs, totalQueries int
	for _, s := range stats {
		totalDocs += s.Documents
		totalQueries += s.Queries
	}

	return c.JSON(fiber.Map{
		"categories":      stats,
		"total_documents": totalDocs,
		"total_routed":    totalQueries,
	})
}

func documentJSON(doc *models.Document) fiber.Map {
	return fiber.Map{
		"id":           doc.ID,
		"filename":     doc.Filename,
		"content_type": doc.ContentType,
		"category":     doc.Category,
		"confidence":   doc.Confidence,
		"classifier":   doc.Classifier,
		"reasoning":    doc.Reasoning,
		"chunk_count":  doc.ChunkCount,
		"created_at":   doc.CreatedAt,
	}
}
