package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/example/paygate/internal/services"
)

// CallbackHandler receives asynchronous provider notifications.
type CallbackHandler struct {
	payments PaymentProcessor
}

func NewCallbackHandler(payments PaymentProcessor) *CallbackHandler {
	return &CallbackHandler{payments: payments}
}

// Callback applies the notification and acknowledges it whether or not a transaction
// matched.
func (h *CallbackHandler) Callback(c *fiber.Ctx) error {
	decoder := json.NewDecoder(bytes.NewReader(c.Body()))
	decoder.UseNumber()

	var body map[string]interface{}
	if err := decoder.Decode(&body); err != nil || body == nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid callback body")
	}

	payload := services.CallbackPayload{
		RequestID: stringField(body, "requestId", "reqeustId"),
		TransID:   stringField(body, "transId"),
		RefNo:     stringField(body, "refNo"),
		ErrorCode: stringField(body, "errorCode"),
		Message:   stringField(body, "message"),
		Raw:       append(json.RawMessage(nil), c.Body()...),
	}

	if _, err := h.payments.HandleCallback(c.UserContext(), payload); err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"ResponseCode":    "0",
		"ResponseMessage": "Callback received",
	})
}

func stringField(body map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		value, ok := body[key]
		if !ok || value == nil {
			continue
		}
		if s, ok := value.(string); ok {
			return s
		}
		return fmt.Sprint(value)
	}
	return ""
}
