package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/paygate/internal/models"
)

const clientContextKey = "oauthClientID"

// TokenValidator checks a bearer token against the issuer's store.
type TokenValidator interface {
	Validate(ctx context.Context, accessToken string) (*models.OAuthToken, error)
}

// OAuthMiddleware requires a valid locally issued bearer token and loads the client ID
// into context.
func OAuthMiddleware(validator TokenValidator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid authorization header")
		}

		token, err := validator.Validate(c.UserContext(), strings.TrimSpace(parts[1]))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid or expired token")
		}

		c.Locals(clientContextKey, token.ClientID)
		return c.Next()
	}
}

// GetClientID extracts the authenticated OAuth client ID from context.
func GetClientID(c *fiber.Ctx) (string, bool) {
	id, ok := c.Locals(clientContextKey).(string)
	return id, ok && id != ""
}
