package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// Pinger checks a backing dependency.
type Pinger func(ctx context.Context) error

// Health reports liveness and database reachability.
func Health(ping Pinger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := ping(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"success":  false,
				"status":   "degraded",
				"database": "unreachable",
			})
		}
		return c.JSON(fiber.Map{
			"success":  true,
			"status":   "ok",
			"database": "ok",
		})
	}
}
