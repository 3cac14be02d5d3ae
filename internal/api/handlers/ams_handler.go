package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/thera-pipeline/matcher/internal/ams"
	"github.com/thera-pipeline/matcher/internal/storage/sqlite"
	"github.com/thera-pipeline/matcher/pkg/logger"
)

type AMSHandler struct {
	db         *sqlite.Client
	aggregator *ams.Aggregator
}

func NewAMSHandler(db *sqlite.Client, aggregator *ams.Aggregator) *AMSHandler {
	return &AMSHandler{db: db, aggregator: aggregator}
}

// HandleGetAMS serves daily records for a date range. Both bounds default to
// the requested single date.
func (h *AMSHandler) HandleGetAMS(c *fiber.Ctx) error {
	from := c.Query("from", c.Query("date"))
	to := c.Query("to", from)

	if from == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "date or from/to query parameters are required",
		})
	}

	if !validDate(from) || !validDate(to) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "dates must be formatted YYYY-MM-DD",
		})
	}

	records, err := h.db.GetAMSOverall(c.Context(), from, to)
	if err != nil {
		logger.Error("Failed to load AMS records", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load AMS records",
		})
	}

	return c.JSON(fiber.Map{
		"records": records,
	})
}

// HandleGetAMSChallenges serves the per-challenge breakdown for one day.
func (h *AMSHandler) HandleGetAMSChallenges(c *fiber.Ctx) error {
	date := c.Query("date")
	if date == "" || !validDate(date) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "date query parameter is required, formatted YYYY-MM-DD",
		})
	}

	records, err := h.db.GetAMSChallenges(c.Context(), date)
	if err != nil {
		logger.Error("Failed to load AMS challenge records", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load AMS challenge records",
		})
	}

	return c.JSON(fiber.Map{
		"date":    date,
		"records": records,
	})
}

// HandleRecompute re-aggregates one past day on demand.
func (h *AMSHandler) HandleRecompute(c *fiber.Ctx) error {
	var req struct {
		Date string `json:"date"`
	}

	if err := c.BodyParser(&req); err != nil || req.Date == "" || !validDate(req.Date) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "date is required, formatted YYYY-MM-DD",
		})
	}

	overall, err := h.aggregator.Run(c.Context(), req.Date)
	if err != nil {
		logger.Error("Failed to aggregate AMS day", zap.String("date", req.Date), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to aggregate AMS day",
		})
	}

	return c.JSON(overall)
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
