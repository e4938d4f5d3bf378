package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/example/paygate/internal/services"
	"github.com/example/paygate/internal/utils"
)

// EmolaDirectory exposes eMola account lookups.
type EmolaDirectory interface {
	BeneficiaryName(ctx context.Context, msisdn string) (string, services.ProviderResult)
	Balance(ctx context.Context) (string, services.ProviderResult)
}

// EmolaHandler serves the eMola lookup endpoints.
type EmolaHandler struct {
	emola       EmolaDirectory
	countryCode string
}

func NewEmolaHandler(emola EmolaDirectory, countryCode string) *EmolaHandler {
	return &EmolaHandler{emola: emola, countryCode: countryCode}
}

// Beneficiary returns the account holder name for ?msisdn=.
func (h *EmolaHandler) Beneficiary(c *fiber.Ctx) error {
	msisdn, err := utils.NormalizeMSISDN(c.Query("msisdn"), h.countryCode)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "msisdn: "+err.Error())
	}

	name, result := h.emola.BeneficiaryName(c.UserContext(), msisdn)
	return c.Status(statusForResult(result)).JSON(fiber.Map{
		"success":    result.Success(),
		"msisdn":     msisdn,
		"name":       name,
		"outcome":    result.Outcome.String(),
		"message":    result.Message,
		"error_code": result.ErrorCode,
	})
}

// Balance returns the partner account balance.
func (h *EmolaHandler) Balance(c *fiber.Ctx) error {
	balance, result := h.emola.Balance(c.UserContext())
	return c.Status(statusForResult(result)).JSON(fiber.Map{
		"success":    result.Success(),
		"balance":    balance,
		"outcome":    result.Outcome.String(),
		"message":    result.Message,
		"error_code": result.ErrorCode,
	})
}
