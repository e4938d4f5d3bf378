package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/example/paygate/internal/models"
	"github.com/example/paygate/internal/services"
	"github.com/example/paygate/internal/utils"
)

// TransactionReporter lists stored transactions and aggregates them.
type TransactionReporter interface {
	List(ctx context.Context, filter services.TransactionFilter) ([]models.Transaction, int64, error)
	DailyReport(ctx context.Context, day time.Time) (*services.DailyReport, error)
	MonthlyReport(ctx context.Context, start, end time.Time) ([]services.DailyReport, error)
}

// TransactionHandler serves the ledger listing and report endpoints.
type TransactionHandler struct {
	reports TransactionReporter
	loc     *time.Location
	now     func() time.Time
}

func NewTransactionHandler(reports TransactionReporter, loc *time.Location) *TransactionHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &TransactionHandler{reports: reports, loc: loc, now: time.Now}
}

// List returns transactions, newest first. Without page or limit it returns every row.
func (h *TransactionHandler) List(c *fiber.Ctx) error {
	filter := services.TransactionFilter{
		MSISDN:   c.Query("customer_msisdn"),
		Type:     models.TransactionType(c.Query("transaction_type")),
		FromApp:  c.Query("from_app"),
		Provider: c.Query("provider"),
		Status:   models.TransactionStatus(c.Query("status")),
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return fiber.NewError(fiber.StatusBadRequest, "transaction_type must be C2B or B2C")
	}

	pg, paged := utils.ParsePagination(c)
	if paged {
		filter.Limit = pg.Limit
		filter.Offset = pg.Offset
	}

	txns, total, err := h.reports.List(c.UserContext(), filter)
	if err != nil {
		return err
	}

	response := fiber.Map{
		"success": true,
		"data":    txns,
		"total":   total,
	}
	if paged {
		response["pagination"] = fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
		}
	}
	return c.JSON(response)
}

// Daily aggregates one day, today by default or ?date=YYYY-MM-DD.
func (h *TransactionHandler) Daily(c *fiber.Ctx) error {
	day := h.now().In(h.loc)
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, h.loc)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		day = parsed
	}

	report, err := h.reports.DailyReport(c.UserContext(), day)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": report})
}

// Monthly returns per-day aggregates from the start of the current month, or of
// ?month=YYYY-MM, up to now.
func (h *TransactionHandler) Monthly(c *fiber.Ctx) error {
	now := h.now().In(h.loc)
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, h.loc)
	if raw := c.Query("month"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01", raw, h.loc)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "month must be YYYY-MM")
		}
		if parsed.After(now) {
			return fiber.NewError(fiber.StatusBadRequest, "month is in the future")
		}
		start = parsed
	}

	end := start.AddDate(0, 1, 0)
	if now.Before(end) {
		end = now
	}

	reports, err := h.reports.MonthlyReport(c.UserContext(), start, end)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": reports})
}
