package services

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/paygate/internal/models"
)

// Provider names as stored on ledger rows.
const (
	ProviderMpesa = "mpesa"
	ProviderEmola = "emola"
)

// Outcome tags a ProviderResult with how the call ended.
type Outcome int

const (
	// OutcomeAccepted means the provider accepted the request.
	OutcomeAccepted Outcome = iota
	// OutcomeRejected means the provider answered with a business error code.
	OutcomeRejected
	// OutcomeTransportError means the provider could not be reached or answered with an
	// unusable HTTP status.
	OutcomeTransportError
	// OutcomeParseError means the provider answered but the payload could not be understood.
	OutcomeParseError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTransportError:
		return "transport_error"
	case OutcomeParseError:
		return "parse_error"
	default:
		return "unknown"
	}
}

// ErrorKind maps the outcome onto the ledger's error classification.
func (o Outcome) ErrorKind() models.ErrorKind {
	switch o {
	case OutcomeRejected:
		return models.ErrorKindBusiness
	case OutcomeTransportError:
		return models.ErrorKindTransport
	case OutcomeParseError:
		return models.ErrorKindParse
	default:
		return models.ErrorKindNone
	}
}

// PaymentRequest is the provider-neutral input of one payment call.
type PaymentRequest struct {
	Kind                models.TransactionType
	Reference           string
	ThirdPartyReference string
	MSISDN              string
	Amount              decimal.Decimal
	ProviderCode        string
	Description         string
}

// ProviderResult is the normalized outcome of one provider call. Provider failures are
// always reported here, never as Go errors.
type ProviderResult struct {
	Outcome        Outcome
	HTTPStatus     int
	ProviderID     string
	ConversationID string
	ErrorCode      string
	Message        string
	// Pending is set on accepted requests whose final status arrives by callback.
	Pending bool
	Raw     json.RawMessage
}

// Success reports whether the provider accepted the request.
func (r ProviderResult) Success() bool {
	return r.Outcome == OutcomeAccepted
}

// LedgerStatus is the status a new ledger row gets for this result.
func (r ProviderResult) LedgerStatus() models.TransactionStatus {
	switch {
	case r.Outcome == OutcomeAccepted && r.Pending:
		return models.StatusPending
	case r.Outcome == OutcomeAccepted:
		return models.StatusSuccess
	default:
		return models.StatusError
	}
}

// Provider submits payments to one mobile-money operator.
type Provider interface {
	Name() string
	Submit(ctx context.Context, req PaymentRequest) ProviderResult
}

// StatusQuerier asks a provider for the current state of a recorded attempt. An empty
// status means the provider gave no usable answer.
type StatusQuerier interface {
	QueryStatus(ctx context.Context, txn *models.Transaction) (ProviderResult, models.TransactionStatus)
}

func transportFailure(status int, message string, raw json.RawMessage) ProviderResult {
	if raw == nil {
		raw = rawJSON(map[string]any{"error": message, "http_status": status})
	}
	return ProviderResult{
		Outcome:    OutcomeTransportError,
		HTTPStatus: status,
		Message:    message,
		Raw:        raw,
	}
}

func parseFailure(status int, message string, raw json.RawMessage) ProviderResult {
	return ProviderResult{
		Outcome:    OutcomeParseError,
		HTTPStatus: status,
		Message:    message,
		Raw:        raw,
	}
}

func rawJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// newProviderHTTPClient returns a client with a fixed per-call deadline. Certificate
// verification is only disabled when the operator explicitly configured it.
func newProviderHTTPClient(timeout time.Duration, insecureSkipVerify bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecureSkipVerify, //nolint:gosec // opt-in via *_INSECURE_SKIP_VERIFY
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
