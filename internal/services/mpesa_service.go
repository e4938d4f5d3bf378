package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/example/paygate/internal/config"
	"github.com/example/paygate/internal/models"
)

// M-Pesa OpenAPI ports and paths. Each operation lives on its own port.
const (
	mpesaC2BPort   = "18352"
	mpesaC2BPath   = "/ipg/v1x/c2bPayment/singleStage/"
	mpesaB2CPort   = "18345"
	mpesaB2CPath   = "/ipg/v1x/b2cPayment/"
	mpesaQueryPort = "18353"
	mpesaQueryPath = "/ipg/v1x/queryTransactionStatus/"

	mpesaOrigin      = "developer.mpesa.vm.co.mz"
	mpesaSuccessCode = "INS-0"
)

// mpesaResponseMessages maps M-Pesa response codes to their documented meaning.
var mpesaResponseMessages = map[string]string{
	"INS-0":    "Request processed successfully",
	"INS-1":    "Internal error",
	"INS-2":    "Invalid API key",
	"INS-4":    "User is not active",
	"INS-5":    "Transaction cancelled by customer",
	"INS-6":    "Transaction failed",
	"INS-9":    "Request timeout",
	"INS-10":   "Duplicate transaction",
	"INS-13":   "Invalid shortcode used",
	"INS-14":   "Invalid reference used",
	"INS-15":   "Invalid amount used",
	"INS-16":   "Unable to handle the request due to a temporary overloading",
	"INS-17":   "Invalid transaction reference, length should be between 1 and 20",
	"INS-18":   "Invalid transaction ID used",
	"INS-19":   "Invalid third party reference used",
	"INS-20":   "Not all parameters provided",
	"INS-21":   "Parameter validations failed",
	"INS-22":   "Invalid operation type",
	"INS-23":   "Unknown status, contact M-Pesa support",
	"INS-24":   "Invalid initiator identifier used",
	"INS-25":   "Invalid security credential used",
	"INS-26":   "Not authorized",
	"INS-993":  "Direct debit missing",
	"INS-994":  "Direct debit already exists",
	"INS-995":  "Customer's profile has problems",
	"INS-996":  "Customer account status not active",
	"INS-997":  "Linking transaction not found",
	"INS-998":  "Invalid market",
	"INS-2001": "Initiator authentication error",
	"INS-2002": "Receiver invalid",
	"INS-2006": "Insufficient balance",
	"INS-2051": "MSISDN invalid",
	"INS-2057": "Language code invalid",
}

// mpesaResponseMessage returns the documented message for code, or false when the code
// is not in the table.
func mpesaResponseMessage(code string) (string, bool) {
	msg, ok := mpesaResponseMessages[code]
	return msg, ok
}

// Authorizer produces the Authorization header for one provider call.
type Authorizer interface {
	AuthorizationHeader() (string, error)
}

type mpesaPaymentBody struct {
	TransactionReference string `json:"input_TransactionReference"`
	CustomerMSISDN       string `json:"input_CustomerMSISDN"`
	Amount               string `json:"input_Amount"`
	ThirdPartyReference  string `json:"input_ThirdPartyReference"`
	ServiceProviderCode  string `json:"input_ServiceProviderCode"`
}

// MpesaService talks to the M-Pesa OpenAPI flat-JSON endpoints.
type MpesaService struct {
	cfg    config.MpesaConfig
	auth   Authorizer
	client *http.Client
	log    *zap.Logger
}

func NewMpesaService(cfg config.MpesaConfig, auth Authorizer, log *zap.Logger) *MpesaService {
	return &MpesaService{
		cfg:    cfg,
		auth:   auth,
		client: newProviderHTTPClient(cfg.Timeout, cfg.InsecureSkipVerify),
		log:    log.Named("mpesa"),
	}
}

func (s *MpesaService) Name() string { return ProviderMpesa }

// Submit sends a C2B or B2C payment.
func (s *MpesaService) Submit(ctx context.Context, req PaymentRequest) ProviderResult {
	providerCode := req.ProviderCode
	if providerCode == "" {
		providerCode = s.cfg.ServiceProviderCode
	}

	body := mpesaPaymentBody{
		TransactionReference: req.Reference,
		CustomerMSISDN:       req.MSISDN,
		Amount:               req.Amount.String(),
		ThirdPartyReference:  req.ThirdPartyReference,
		ServiceProviderCode:  providerCode,
	}

	port, path := mpesaC2BPort, mpesaC2BPath
	if req.Kind == models.TransactionB2C {
		port, path = mpesaB2CPort, mpesaB2CPath
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return transportFailure(0, fmt.Sprintf("encode request: %v", err), nil)
	}

	result, _ := s.call(ctx, http.MethodPost, s.endpoint(port, path), bytes.NewReader(payload))

	s.log.Info("payment submitted",
		zap.String("kind", string(req.Kind)),
		zap.String("reference", req.Reference),
		zap.String("outcome", result.Outcome.String()),
		zap.Int("http_status", result.HTTPStatus),
		zap.String("code", result.ErrorCode),
	)
	return result
}

// QueryStatus asks M-Pesa for the state of a recorded transaction.
func (s *MpesaService) QueryStatus(ctx context.Context, txn *models.Transaction) (ProviderResult, models.TransactionStatus) {
	queryRef := txn.ThirdPartyReference
	switch {
	case txn.TransactionID != nil && *txn.TransactionID != "":
		queryRef = *txn.TransactionID
	case txn.ConversationID != nil && *txn.ConversationID != "":
		queryRef = *txn.ConversationID
	}

	params := url.Values{}
	params.Set("input_QueryReference", queryRef)
	params.Set("input_ThirdPartyReference", txn.ThirdPartyReference)
	params.Set("input_ServiceProviderCode", s.cfg.ServiceProviderCode)

	endpoint := s.endpoint(mpesaQueryPort, mpesaQueryPath) + "?" + params.Encode()
	result, decoded := s.call(ctx, http.MethodGet, endpoint, nil)
	if !result.Success() {
		return result, ""
	}

	state, _ := decoded["output_ResponseTransactionStatus"].(string)
	switch state {
	case "Completed":
		return result, models.StatusSuccess
	case "Failed", "Cancelled", "Expired":
		return result, models.StatusError
	default:
		return result, models.StatusPending
	}
}

// endpoint appends the operation port unless the base URL already carries one.
func (s *MpesaService) endpoint(port, path string) string {
	base := s.cfg.BaseURL
	if parsed, err := url.Parse(base); err == nil && parsed.Port() == "" {
		base += ":" + port
	}
	return base + path
}

func (s *MpesaService) call(ctx context.Context, method, endpoint string, body io.Reader) (ProviderResult, map[string]any) {
	authorization, err := s.auth.AuthorizationHeader()
	if err != nil {
		s.log.Error("build authorization token", zap.Error(err))
		return transportFailure(0, "authorization: "+err.Error(), nil), nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return transportFailure(0, fmt.Sprintf("build request: %v", err), nil), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", authorization)
	httpReq.Header.Set("Origin", mpesaOrigin)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.log.Warn("request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return transportFailure(0, err.Error(), nil), nil
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportFailure(resp.StatusCode, fmt.Sprintf("read response: %v", err), nil), nil
	}

	return interpretMpesaResponse(resp.StatusCode, content)
}

// interpretMpesaResponse maps a raw M-Pesa answer onto a ProviderResult. A non-2xx
// status that still carries a response code is a business rejection; one without a
// code is a transport failure.
func interpretMpesaResponse(status int, content []byte) (ProviderResult, map[string]any) {
	var decoded map[string]any
	if err := json.Unmarshal(content, &decoded); err != nil || decoded == nil {
		raw := rawJSON(map[string]any{"http_status": status, "content": string(content)})
		if status < 200 || status > 299 {
			return transportFailure(status, fmt.Sprintf("unexpected status %d", status), raw), nil
		}
		return parseFailure(status, "invalid response", raw), nil
	}

	raw := json.RawMessage(content)
	code, ok := decoded["output_ResponseCode"].(string)
	if !ok || code == "" {
		if status < 200 || status > 299 {
			return transportFailure(status, fmt.Sprintf("unexpected status %d", status), raw), decoded
		}
		return parseFailure(status, "invalid response", raw), decoded
	}

	message, known := mpesaResponseMessage(code)
	if code == mpesaSuccessCode {
		transactionID, _ := decoded["output_TransactionID"].(string)
		conversationID, _ := decoded["output_ConversationID"].(string)
		return ProviderResult{
			Outcome:        OutcomeAccepted,
			HTTPStatus:     status,
			ProviderID:     transactionID,
			ConversationID: conversationID,
			Message:        message,
			Raw:            raw,
		}, decoded
	}

	if !known {
		message = "unknown error"
	}
	conversationID, _ := decoded["output_ConversationID"].(string)
	return ProviderResult{
		Outcome:        OutcomeRejected,
		HTTPStatus:     status,
		ConversationID: conversationID,
		ErrorCode:      code,
		Message:        message,
		Raw:            raw,
	}, decoded
}
