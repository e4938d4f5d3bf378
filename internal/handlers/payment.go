package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/example/paygate/internal/middleware"
	"github.com/example/paygate/internal/models"
	"github.com/example/paygate/internal/services"
)

// PaymentProcessor runs payments and applies provider status updates.
type PaymentProcessor interface {
	Pay(ctx context.Context, in services.PaymentInput) (*services.PaymentOutcome, error)
	CheckStatus(ctx context.Context, ref string) (*services.StatusCheck, error)
	HandleCallback(ctx context.Context, cb services.CallbackPayload) (bool, error)
}

// PaymentHandler serves the payment endpoints.
type PaymentHandler struct {
	payments PaymentProcessor
	wallets  map[string]string
}

// NewPaymentHandler takes the configured wallet id per provider for the legacy routes.
func NewPaymentHandler(payments PaymentProcessor, wallets map[string]string) *PaymentHandler {
	return &PaymentHandler{payments: payments, wallets: wallets}
}

type paymentRequest struct {
	CustomerMSISDN       string          `json:"customer_msisdn"`
	Amount               decimal.Decimal `json:"amount"`
	TransactionReference string          `json:"transaction_reference"`
	ThirdPartyReference  string          `json:"third_party_reference"`
	ServiceProviderCode  string          `json:"service_provider_code"`
	Provider             string          `json:"provider"`
	FromApp              string          `json:"from_app"`
	Description          string          `json:"description"`
}

type legacyPaymentRequest struct {
	ClientID  string          `json:"client_id"`
	Phone     string          `json:"phone"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
	FromApp   string          `json:"fromApp"`
}

type paymentResponse struct {
	Success              bool                     `json:"success"`
	Status               models.TransactionStatus `json:"status"`
	Outcome              string                   `json:"outcome"`
	Provider             string                   `json:"provider"`
	TransactionID        string                   `json:"transaction_id,omitempty"`
	ConversationID       string                   `json:"conversation_id,omitempty"`
	TransactionReference string                   `json:"transaction_reference"`
	ThirdPartyReference  string                   `json:"third_party_reference"`
	CustomerMSISDN       string                   `json:"customer_msisdn"`
	Amount               decimal.Decimal          `json:"amount"`
	Message              string                   `json:"message,omitempty"`
	ErrorCode            string                   `json:"error_code,omitempty"`
	Response             json.RawMessage          `json:"response,omitempty"`
}

// C2B charges a customer.
func (h *PaymentHandler) C2B(c *fiber.Ctx) error {
	return h.pay(c, models.TransactionC2B)
}

// B2C pays out to a customer.
func (h *PaymentHandler) B2C(c *fiber.Ctx) error {
	return h.pay(c, models.TransactionB2C)
}

func (h *PaymentHandler) pay(c *fiber.Ctx, kind models.TransactionType) error {
	var req paymentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	return h.run(c, services.PaymentInput{
		Provider:             strings.ToLower(strings.TrimSpace(req.Provider)),
		Kind:                 kind,
		MSISDN:               req.CustomerMSISDN,
		Amount:               req.Amount,
		TransactionReference: req.TransactionReference,
		ThirdPartyReference:  req.ThirdPartyReference,
		ServiceProviderCode:  req.ServiceProviderCode,
		FromApp:              req.FromApp,
		Description:          req.Description,
	})
}

// LegacyC2B serves the wallet-scoped C2B routes older client apps still call.
func (h *PaymentHandler) LegacyC2B(provider string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		wallet, ok := h.wallets[provider]
		if !ok || wallet == "" || c.Params("wallet_id") != wallet {
			return fiber.NewError(fiber.StatusNotFound, "wallet not found")
		}

		var req legacyPaymentRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if req.ClientID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "client_id is required")
		}
		if clientID, ok := middleware.GetClientID(c); ok && clientID != req.ClientID {
			return fiber.NewError(fiber.StatusForbidden, "client_id does not match token")
		}

		return h.run(c, services.PaymentInput{
			Provider:             provider,
			Kind:                 models.TransactionC2B,
			MSISDN:               req.Phone,
			Amount:               req.Amount,
			TransactionReference: req.Reference,
			FromApp:              req.FromApp,
		})
	}
}

func (h *PaymentHandler) run(c *fiber.Ctx, in services.PaymentInput) error {
	outcome, err := h.payments.Pay(c.UserContext(), in)
	if err != nil {
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			return fiber.NewError(fiber.StatusBadRequest, verr.Message)
		}
		return err
	}

	return c.Status(statusForResult(outcome.Result)).JSON(newPaymentResponse(outcome.Transaction, outcome.Result))
}

// CheckStatus re-queries the provider for a stored transaction.
func (h *PaymentHandler) CheckStatus(c *fiber.Ctx) error {
	check, err := h.payments.CheckStatus(c.UserContext(), c.Params("reference"))
	if err != nil {
		var verr *services.ValidationError
		switch {
		case errors.Is(err, services.ErrTransactionNotFound):
			return fiber.NewError(fiber.StatusNotFound, "transaction not found")
		case errors.As(err, &verr):
			return fiber.NewError(fiber.StatusBadRequest, verr.Message)
		}
		return err
	}

	return c.Status(statusForResult(check.Result)).JSON(fiber.Map{
		"success":     check.Result.Success(),
		"status":      check.Transaction.Status,
		"outcome":     check.Result.Outcome.String(),
		"updated":     check.Updated,
		"message":     check.Result.Message,
		"error_code":  check.Result.ErrorCode,
		"transaction": check.Transaction,
	})
}

// statusForResult maps a provider outcome onto the HTTP status returned to the client.
func statusForResult(r services.ProviderResult) int {
	switch r.Outcome {
	case services.OutcomeAccepted:
		return fiber.StatusOK
	case services.OutcomeRejected:
		if r.HTTPStatus >= 400 && r.HTTPStatus < 500 {
			return r.HTTPStatus
		}
		return fiber.StatusBadRequest
	default:
		return fiber.StatusBadGateway
	}
}

func newPaymentResponse(txn *models.Transaction, r services.ProviderResult) paymentResponse {
	return paymentResponse{
		Success:              r.Success(),
		Status:               txn.Status,
		Outcome:              r.Outcome.String(),
		Provider:             txn.Provider,
		TransactionID:        r.ProviderID,
		ConversationID:       r.ConversationID,
		TransactionReference: txn.TransactionReference,
		ThirdPartyReference:  txn.ThirdPartyReference,
		CustomerMSISDN:       txn.CustomerMSISDN,
		Amount:               txn.Amount,
		Message:              r.Message,
		ErrorCode:            r.ErrorCode,
		Response:             r.Raw,
	}
}
