package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/example/paygate/internal/config"
	"github.com/example/paygate/internal/models"
	"github.com/example/paygate/internal/utils"
)

// eMola gateway operation codes.
const (
	EmolaWSC2B         = "pushUssdMessage"
	EmolaWSB2C         = "pushUsedDisbursementB2C"
	EmolaWSQuery       = "pushUsedQueryTrans"
	EmolaWSBeneficiary = "queryBeneficiaryName"
	EmolaWSBalance     = "queryAccountBalance"

	emolaQuerySuccess = "01"
)

// EmolaService talks to the eMola SOAP gateway.
type EmolaService struct {
	cfg    config.EmolaConfig
	client *http.Client
	log    *zap.Logger
}

func NewEmolaService(cfg config.EmolaConfig, log *zap.Logger) *EmolaService {
	return &EmolaService{
		cfg:    cfg,
		client: newProviderHTTPClient(cfg.Timeout, cfg.InsecureSkipVerify),
		log:    log.Named("emola"),
	}
}

func (s *EmolaService) Name() string { return ProviderEmola }

// Submit pushes a USSD payment prompt (C2B) or a disbursement (B2C). Accepted C2B
// requests stay pending until the callback arrives.
func (s *EmolaService) Submit(ctx context.Context, req PaymentRequest) ProviderResult {
	content := req.Description
	if content == "" {
		content = "Payment " + req.Reference
	}

	var (
		wscode string
		params []GatewayParam
	)
	switch req.Kind {
	case models.TransactionB2C:
		wscode = EmolaWSB2C
		params = []GatewayParam{
			{Name: "partnerCode", Value: s.cfg.PartnerCode},
			{Name: "msisdn", Value: req.MSISDN},
			{Name: "smsContent", Value: content},
			{Name: "transAmount", Value: req.Amount.String()},
			{Name: "transId", Value: req.ThirdPartyReference},
			{Name: "key", Value: s.cfg.Key},
		}
	default:
		wscode = EmolaWSC2B
		params = []GatewayParam{
			{Name: "partnerCode", Value: s.cfg.PartnerCode},
			{Name: "msisdn", Value: req.MSISDN},
			{Name: "smsContent", Value: content},
			{Name: "transAmount", Value: req.Amount.String()},
			{Name: "transId", Value: req.ThirdPartyReference},
			{Name: "language", Value: s.cfg.Language},
			{Name: "refNo", Value: req.Reference},
			{Name: "key", Value: s.cfg.Key},
		}
	}

	result, _ := s.call(ctx, wscode, params)
	if result.Success() && req.Kind != models.TransactionB2C {
		result.Pending = true
	}

	s.log.Info("payment submitted",
		zap.String("wscode", wscode),
		zap.String("reference", req.Reference),
		zap.String("outcome", result.Outcome.String()),
		zap.String("code", result.ErrorCode),
	)
	return result
}

// QueryStatus asks eMola for the state of a recorded transaction.
func (s *EmolaService) QueryStatus(ctx context.Context, txn *models.Transaction) (ProviderResult, models.TransactionStatus) {
	params := []GatewayParam{
		{Name: "partnerCode", Value: s.cfg.PartnerCode},
		{Name: "transId", Value: txn.ThirdPartyReference},
		{Name: "key", Value: s.cfg.Key},
		{Name: "transType", Value: string(txn.TransactionType)},
	}

	result, reply := s.call(ctx, EmolaWSQuery, params)
	if !result.Success() || reply == nil || reply.Inner == nil {
		return result, ""
	}
	if reply.Inner.OrgResponseCode == emolaQuerySuccess {
		return result, models.StatusSuccess
	}
	return result, models.StatusError
}

// BeneficiaryName looks up the account holder name of msisdn.
func (s *EmolaService) BeneficiaryName(ctx context.Context, msisdn string) (string, ProviderResult) {
	params := []GatewayParam{
		{Name: "partnerCode", Value: s.cfg.PartnerCode},
		{Name: "msisdn", Value: msisdn},
		{Name: "transId", Value: utils.NewCorrelationReference()},
		{Name: "key", Value: s.cfg.Key},
	}

	result, reply := s.call(ctx, EmolaWSBeneficiary, params)
	if !result.Success() || reply == nil || reply.Inner == nil {
		return "", result
	}
	return reply.Inner.Message, result
}

// Balance returns the partner account balance as reported by the gateway.
func (s *EmolaService) Balance(ctx context.Context) (string, ProviderResult) {
	params := []GatewayParam{
		{Name: "partnerCode", Value: s.cfg.PartnerCode},
		{Name: "transId", Value: utils.NewCorrelationReference()},
		{Name: "key", Value: s.cfg.Key},
	}

	result, reply := s.call(ctx, EmolaWSBalance, params)
	if !result.Success() || reply == nil || reply.Inner == nil {
		return "", result
	}
	return reply.Inner.Balance, result
}

func (s *EmolaService) call(ctx context.Context, wscode string, params []GatewayParam) (ProviderResult, *GatewayReply) {
	creds := GatewayCredentials{Username: s.cfg.Username, Password: s.cfg.Password}
	payload, err := BuildGatewayRequest(creds, wscode, params)
	if err != nil {
		return transportFailure(0, fmt.Sprintf("build request: %v", err), nil), nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return transportFailure(0, fmt.Sprintf("build request: %v", err), nil), nil
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.log.Warn("request failed", zap.String("wscode", wscode), zap.Error(err))
		return transportFailure(0, err.Error(), nil), nil
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportFailure(resp.StatusCode, fmt.Sprintf("read response: %v", err), nil), nil
	}

	raw := rawJSON(map[string]any{"http_status": resp.StatusCode, "content": string(content)})
	if resp.StatusCode != http.StatusOK {
		return transportFailure(resp.StatusCode, fmt.Sprintf("unexpected status %d", resp.StatusCode), raw), nil
	}

	reply, err := ParseGatewayResponse(content)
	if err != nil {
		s.log.Warn("unparseable gateway response", zap.String("wscode", wscode), zap.Error(err))
		return parseFailure(resp.StatusCode, err.Error(), raw), nil
	}

	return interpretGatewayReply(resp.StatusCode, reply, raw), reply
}

// interpretGatewayReply surfaces the inner result when present, otherwise the outer one.
func interpretGatewayReply(status int, reply *GatewayReply, raw []byte) ProviderResult {
	if reply.Code != gatewayOK {
		return ProviderResult{
			Outcome:    OutcomeRejected,
			HTTPStatus: status,
			ErrorCode:  reply.Code,
			Message:    reply.Description,
			Raw:        raw,
		}
	}

	if reply.Inner == nil {
		return ProviderResult{
			Outcome:    OutcomeAccepted,
			HTTPStatus: status,
			Message:    reply.Description,
			Raw:        raw,
		}
	}

	inner := reply.Inner
	if inner.ErrorCode != gatewayOK {
		return ProviderResult{
			Outcome:        OutcomeRejected,
			HTTPStatus:     status,
			ConversationID: inner.RequestID,
			ErrorCode:      inner.ErrorCode,
			Message:        inner.Message,
			Raw:            raw,
		}
	}

	return ProviderResult{
		Outcome:        OutcomeAccepted,
		HTTPStatus:     status,
		ConversationID: inner.RequestID,
		Message:        inner.Message,
		Raw:            raw,
	}
}
