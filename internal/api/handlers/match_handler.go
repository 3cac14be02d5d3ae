package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/thera-pipeline/matcher/internal/matching"
	"github.com/thera-pipeline/matcher/internal/metrics"
	"github.com/thera-pipeline/matcher/internal/storage/models"
	"github.com/thera-pipeline/matcher/pkg/logger"
)

type MatchHandler struct {
	engine *matching.Engine
}

func NewMatchHandler(engine *matching.Engine) *MatchHandler {
	return &MatchHandler{engine: engine}
}

func (h *MatchHandler) HandleMatch(c *fiber.Ctx) error {
	var req struct {
		QueryText string `json:"query_text"`
		Industry  string `json:"industry"`
		Country   string `json:"country"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.QueryText == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query_text is required",
		})
	}

	start := time.Now()
	resp, err := h.engine.Match(c.Context(), models.MatchQuery{
		QueryText: req.QueryText,
		Industry:  req.Industry,
		Country:   req.Country,
	})
	if err != nil {
		metrics.MatchTotal.WithLabelValues("error").Inc()
		logger.Error("Failed to process match query", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process match query",
		})
	}

	metrics.MatchTotal.WithLabelValues(resp.Status).Inc()
	metrics.MatchDuration.WithLabelValues(resp.Status).Observe(time.Since(start).Seconds())

	return c.JSON(resp)
}
