package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docrouter/backend/internal/session"
	"github.com/docrouter/backend/pkg/logger"
)

type SessionService interface {
	Create(ctx context.Context) (string, error)
	Get(ctx context.Context, id string) (*session.Session, error)
	Stats(ctx context.Context, id string) (*session.Stats, error)
	Delete(ctx context.Context, id string) error
	Extend(ctx context.Context, id string) (bool, error)
}

type SessionHandler struct {
	sessions SessionService
}

func NewSessionHandler(sessions SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) Create(c *fiber.Ctx) error {
	id, err := h.sessions.Create(c.UserContext())
	if err != nil {
		return h.storeError(c, "create", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"session_id": id,
	})
}

func (h *SessionHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")

	s, err := h.sessions.Get(c.UserContext(), id)
	if err != nil {
		return h.storeError(c, "get", err)
	}
	if s == nil {
		return errorResponse(c, fiber.StatusNotFound, "Session not found")
	}

	stats, err := h.sessions.Stats(c.UserContext(), id)
	if err != nil {
		return h.storeError(c, "stats", err)
	}

	return c.JSON(fiber.Map{
		"session": s,
		"stats":   stats,
	})
}

func (h *SessionHandler) Delete(c *fiber.Ctx) error {
	if err := h.sessions.Delete(c.UserContext(), c.Params("id")); err != nil {
		return h.storeError(c, "delete", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SessionHandler) Extend(c *fiber.Ctx) error {
	id := c.Params("id")

	ok, err := h.sessions.Extend(c.UserContext(), id)
	if err != nil {
		return h.storeError(c, "extend", err)
	}
	if !ok {
		return errorResponse(c, fiber.StatusNotFound, "Session not found")
	}

	return c.JSON(fiber.Map{
		"session_id": id,
		"extended":   true,
	})
}

func (h *SessionHandler) storeError(c *fiber.Ctx, op string, err error) error {
	logger.Error("Session operation failed", zap.String("op", op), zap.Error(err))
	if errors.Is(err, session.ErrStoreUnavailable) {
		return errorResponse(c, fiber.StatusServiceUnavailable, "Session store unavailable")
	}
	return errorResponse(c, fiber.StatusInternalServerError, "Session operation failed")
}
