package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/paygate/internal/models"
	"github.com/example/paygate/internal/services"
)

// TokenIssuer issues client-credentials tokens.
type TokenIssuer interface {
	Issue(ctx context.Context, grantType, clientID, clientSecret string) (*models.OAuthToken, error)
}

// OAuthHandler serves the token endpoint.
type OAuthHandler struct {
	issuer TokenIssuer
}

func NewOAuthHandler(issuer TokenIssuer) *OAuthHandler {
	return &OAuthHandler{issuer: issuer}
}

type tokenRequest struct {
	GrantType    string `json:"grant_type" form:"grant_type"`
	ClientID     string `json:"client_id" form:"client_id"`
	ClientSecret string `json:"client_secret" form:"client_secret"`
}

// Token exchanges client credentials for a bearer token. Credentials may come in the
// body or as HTTP Basic auth.
func (h *OAuthHandler) Token(c *fiber.Ctx) error {
	var req tokenRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	if req.ClientID == "" {
		req.ClientID, req.ClientSecret = basicCredentials(c.Get(fiber.HeaderAuthorization))
	}

	token, err := h.issuer.Issue(c.UserContext(), req.GrantType, req.ClientID, req.ClientSecret)
	switch {
	case errors.Is(err, services.ErrUnsupportedGrant):
		return fiber.NewError(fiber.StatusBadRequest, "unsupported_grant_type")
	case errors.Is(err, services.ErrInvalidClient):
		return fiber.NewError(fiber.StatusUnauthorized, "invalid_client")
	case err != nil:
		return err
	}

	return c.JSON(fiber.Map{
		"access_token": token.AccessToken,
		"token_type":   token.TokenType,
		"expires_in":   token.ExpiresIn,
	})
}

func basicCredentials(header string) (string, string) {
	scheme, encoded, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return "", ""
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", ""
	}
	id, secret, _ := strings.Cut(string(decoded), ":")
	return id, secret
}
