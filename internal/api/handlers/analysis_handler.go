package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/botsentry/backend/internal/pipeline"
	"github.com/botsentry/backend/internal/storage/models"
	"github.com/botsentry/backend/internal/storage/sqlite"
	"github.com/botsentry/backend/pkg/logger"
)

type AnalysisHandler struct {
	orchestrator *pipeline.Orchestrator
	store        *sqlite.Client
}

func NewAnalysisHandler(orchestrator *pipeline.Orchestrator, store *sqlite.Client) *AnalysisHandler {
	return &AnalysisHandler{
		orchestrator: orchestrator,
		store:        store,
	}
}

// RunAnalysis runs the full extraction-to-scoring pipeline for a session.
// The request is synchronous; the response carries the aggregate counts.
func (h *AnalysisHandler) RunAnalysis(c *fiber.Ctx) error {
	var req struct {
		Usernames []string `json:"usernames"`
	}
	// The body is optional; an empty body means "score all known accounts".
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	sessionID := c.Params("id")
	result, err := h.orchestrator.Run(c.Context(), sessionID, req.Usernames)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Session not found",
			})
		}
		logger.Error("Pipeline run failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	verdicts := make([]fiber.Map, 0, len(result.Detection.Verdicts))
	for _, v := range result.Detection.Verdicts {
		verdicts = append(verdicts, verdictJSON(v))
	}

	return c.JSON(fiber.Map{
		"extraction": fiber.Map{
			"activity_count": result.Extraction.ActivityCount,
			"author_count":   result.Extraction.AuthorCount,
		},
		"detection": fiber.Map{
			"users_analyzed": result.Detection.UsersAnalyzed,
			"bots_detected":  result.Detection.BotsDetected,
			"verdicts":       verdicts,
		},
	})
}

// ListVerdicts returns the current verdict for every analyzed account,
// most bot-like first.
func (h *AnalysisHandler) ListVerdicts(c *fiber.Ctx) error {
	verdicts, err := h.store.ListVerdicts()
	if err != nil {
		logger.Error("Failed to list verdicts", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list verdicts",
		})
	}

	out := make([]fiber.Map, 0, len(verdicts))
	for _, v := range verdicts {
		out = append(out, verdictJSON(v))
	}

	return c.JSON(fiber.Map{"verdicts": out})
}

func verdictJSON(v *models.BotVerdict) fiber.Map {
	return fiber.Map{
		"username":           v.Username,
		"bot_probability":    v.BotProbability,
		"confidence_score":   v.ConfidenceScore,
		"detection_method":   v.DetectionMethod,
		"features":           v.Features,
		"risk_factors":       v.RiskFactors,
		"analysis_timestamp": v.AnalysisTimestamp.Format(time.RFC3339),
	}
}
