package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/botsentry/backend/internal/session"
	"github.com/botsentry/backend/internal/storage/models"
	"github.com/botsentry/backend/internal/storage/sqlite"
	"github.com/botsentry/backend/pkg/logger"
)

type SessionHandler struct {
	sessions *session.Manager
}

func NewSessionHandler(sessions *session.Manager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) CreateSession(c *fiber.Ctx) error {
	var req struct {
		Name       string            `json:"name"`
		Community  string            `json:"community"`
		Parameters map[string]string `json:"parameters"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Community == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Community is required",
		})
	}

	sess, err := h.sessions.Create(req.Name, req.Community, req.Parameters)
	if err != nil {
		logger.Error("Failed to create session", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create session",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(sessionJSON(sess))
}

func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	sessions, err := h.sessions.List()
	if err != nil {
		logger.Error("Failed to list sessions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list sessions",
		})
	}

	out := make([]fiber.Map, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionJSON(sess))
	}

	return c.JSON(fiber.Map{"sessions": out})
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	sess, err := h.sessions.Get(c.Params("id"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not found",
			})
		}
		logger.Error("Failed to get session", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get session",
		})
	}

	return c.JSON(sessionJSON(sess))
}

func (h *SessionHandler) DeleteSession(c *fiber.Ctx) error {
	err := h.sessions.Delete(c.Params("id"))
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not found",
			})
		}
		logger.Error("Failed to delete session", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete session",
		})
	}

	return c.JSON(fiber.Map{"message": "Session deleted"})
}

func sessionJSON(s *models.AnalysisSession) fiber.Map {
	var completedAt interface{}
	if s.CompletedAt != nil {
		completedAt = s.CompletedAt.Format(time.RFC3339)
	}

	return fiber.Map{
		"id":                      s.ID,
		"name":                    s.Name,
		"community":               s.Community,
		"status":                  s.Status,
		"total_accounts_analyzed": s.TotalAccountsAnalyzed,
		"bots_detected":           s.BotsDetected,
		"parameters":              s.Parameters,
		"started_at":              s.StartedAt.Format(time.RFC3339),
		"completed_at":            completedAt,
	}
}
