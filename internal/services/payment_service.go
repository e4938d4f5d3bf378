package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/example/paygate/internal/models"
	"github.com/example/paygate/internal/utils"
)

// maxAmount is the first value the numeric(12,2) amount column cannot hold.
var maxAmount = decimal.New(1, 10)

// ErrTransactionNotFound is returned when no ledger row matches a reference.
var ErrTransactionNotFound = errors.New("transaction not found")

// ValidationError rejects a request before any provider call or ledger write.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Ledger is the persistence the payment flow needs.
type Ledger interface {
	Record(ctx context.Context, txn *models.Transaction) error
	FindByReference(ctx context.Context, ref string) ([]models.Transaction, error)
	UpdateByReference(ctx context.Context, ref string, upd StatusUpdate) (bool, error)
	Update(ctx context.Context, txn *models.Transaction, upd StatusUpdate) (bool, error)
}

// PaymentNotifier is told about accepted payments.
type PaymentNotifier interface {
	NotifyPaymentSuccess(ctx context.Context, payment PaymentSuccessNotification) error
}

// PaymentSettings are the reference and number formatting rules.
type PaymentSettings struct {
	ReferencePrefix string
	CountryCode     string
	Location        *time.Location
}

// PaymentInput is one payment request as received from a client.
type PaymentInput struct {
	Provider             string
	Kind                 models.TransactionType
	MSISDN               string
	Amount               decimal.Decimal
	TransactionReference string
	ThirdPartyReference  string
	ServiceProviderCode  string
	FromApp              string
	Description          string
}

// PaymentOutcome pairs the stored row with the provider result it was built from.
type PaymentOutcome struct {
	Transaction *models.Transaction
	Result      ProviderResult
}

// StatusCheck is the result of re-querying a provider for a stored transaction.
type StatusCheck struct {
	Transaction *models.Transaction
	Result      ProviderResult
	Status      models.TransactionStatus
	Updated     bool
}

// CallbackPayload is an asynchronous provider notification.
type CallbackPayload struct {
	RequestID string
	TransID   string
	RefNo     string
	ErrorCode string
	Message   string
	Raw       json.RawMessage
}

// PaymentService validates payment requests, calls the chosen provider and records
// exactly one ledger row per provider call.
type PaymentService struct {
	providers map[string]Provider
	ledger    Ledger
	notifier  PaymentNotifier
	settings  PaymentSettings
	now       func() time.Time
	log       *zap.Logger
}

func NewPaymentService(ledger Ledger, settings PaymentSettings, log *zap.Logger, providers ...Provider) *PaymentService {
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	registry := make(map[string]Provider, len(providers))
	for _, p := range providers {
		registry[p.Name()] = p
	}
	return &PaymentService{
		providers: registry,
		ledger:    ledger,
		settings:  settings,
		now:       time.Now,
		log:       log.Named("payments"),
	}
}

// WithNotifier sets the receiver of accepted-payment notifications.
func (s *PaymentService) WithNotifier(n PaymentNotifier) *PaymentService {
	s.notifier = n
	return s
}

// WithClock replaces the time source used for generated references.
func (s *PaymentService) WithClock(now func() time.Time) *PaymentService {
	s.now = now
	return s
}

// Pay runs one payment. Provider failures are not Go errors: they come back in the
// outcome and are recorded. A non-nil error means validation failed (*ValidationError)
// or the ledger write failed.
func (s *PaymentService) Pay(ctx context.Context, in PaymentInput) (*PaymentOutcome, error) {
	req, provider, err := s.prepare(in)
	if err != nil {
		return nil, err
	}

	result := provider.Submit(ctx, req)

	txn := &models.Transaction{
		Provider:             provider.Name(),
		TransactionType:      req.Kind,
		TransactionReference: req.Reference,
		ThirdPartyReference:  req.ThirdPartyReference,
		CustomerMSISDN:       req.MSISDN,
		Amount:               req.Amount,
		Status:               result.LedgerStatus(),
		ErrorKind:            result.Outcome.ErrorKind(),
		ErrorCode:            result.ErrorCode,
		Message:              result.Message,
		RawResponse:          datatypes.JSON(result.Raw),
		TransactionID:        optional(result.ProviderID),
		ConversationID:       optional(result.ConversationID),
		FromApp:              optional(in.FromApp),
	}

	outcome := &PaymentOutcome{Transaction: txn, Result: result}
	if err := s.ledger.Record(ctx, txn); err != nil {
		s.log.Error("failed to record transaction",
			zap.String("reference", txn.TransactionReference),
			zap.String("outcome", result.Outcome.String()),
			zap.Error(err),
		)
		return outcome, err
	}

	if result.Success() {
		s.notify(txn)
	}
	return outcome, nil
}

func (s *PaymentService) prepare(in PaymentInput) (PaymentRequest, Provider, error) {
	name := in.Provider
	if name == "" {
		name = ProviderMpesa
	}
	provider, ok := s.providers[name]
	if !ok {
		return PaymentRequest{}, nil, invalid("provider %q is not available", name)
	}
	if !in.Kind.Valid() {
		return PaymentRequest{}, nil, invalid("transaction type must be C2B or B2C")
	}
	if !in.Amount.IsPositive() {
		return PaymentRequest{}, nil, invalid("amount must be greater than zero")
	}
	if in.Amount.GreaterThanOrEqual(maxAmount) {
		return PaymentRequest{}, nil, invalid("amount must be less than %s", maxAmount.String())
	}
	if !in.Amount.Equal(in.Amount.Round(2)) {
		return PaymentRequest{}, nil, invalid("amount must have at most two decimal places")
	}

	msisdn, err := utils.NormalizeMSISDN(in.MSISDN, s.settings.CountryCode)
	if err != nil {
		return PaymentRequest{}, nil, invalid("customer_msisdn: %v", err)
	}

	reference := in.TransactionReference
	if reference == "" {
		reference = utils.NewTransactionReference(s.settings.ReferencePrefix, s.now().In(s.settings.Location))
	}
	thirdParty := in.ThirdPartyReference
	if thirdParty == "" {
		thirdParty = utils.NewCorrelationReference()
	}
	if len(reference) > utils.MaxReferenceLength || len(thirdParty) > utils.MaxReferenceLength {
		return PaymentRequest{}, nil, invalid("references must be at most %d characters", utils.MaxReferenceLength)
	}

	return PaymentRequest{
		Kind:                in.Kind,
		Reference:           reference,
		ThirdPartyReference: thirdParty,
		MSISDN:              msisdn,
		Amount:              in.Amount,
		ProviderCode:        in.ServiceProviderCode,
		Description:         in.Description,
	}, provider, nil
}

func (s *PaymentService) notify(txn *models.Transaction) {
	if s.notifier == nil {
		return
	}

	notification := PaymentSuccessNotification{
		Provider:  txn.Provider,
		Kind:      string(txn.TransactionType),
		Status:    string(txn.Status),
		Reference: txn.TransactionReference,
		MSISDN:    txn.CustomerMSISDN,
		Amount:    txn.Amount,
	}
	if txn.FromApp != nil {
		notification.FromApp = *txn.FromApp
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.notifier.NotifyPaymentSuccess(ctx, notification); err != nil {
			s.log.Warn("payment notification failed", zap.String("reference", notification.Reference), zap.Error(err))
		}
	}()
}

// CheckStatus re-queries the provider for the newest row matching ref and stores the
// answer when the provider gave one.
func (s *PaymentService) CheckStatus(ctx context.Context, ref string) (*StatusCheck, error) {
	txns, err := s.ledger.FindByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, ErrTransactionNotFound
	}
	txn := txns[0]

	provider, ok := s.providers[txn.Provider]
	if !ok {
		return nil, invalid("provider %q is not available", txn.Provider)
	}
	querier, ok := provider.(StatusQuerier)
	if !ok {
		return nil, invalid("provider %q does not support status queries", txn.Provider)
	}

	result, status := querier.QueryStatus(ctx, &txn)
	check := &StatusCheck{Transaction: &txn, Result: result, Status: status}
	if status == "" || status == txn.Status {
		return check, nil
	}

	upd := StatusUpdate{
		Status:    status,
		ErrorCode: result.ErrorCode,
		Message:   result.Message,
		Raw:       result.Raw,
	}
	updated, err := s.ledger.Update(ctx, &txn, upd)
	if err != nil {
		return nil, err
	}
	check.Updated = updated
	txn.Status = status
	return check, nil
}

// HandleCallback applies a provider notification to the matching rows, trying transId
// (the per-attempt correlation id) before refNo. It reports whether any row matched.
func (s *PaymentService) HandleCallback(ctx context.Context, cb CallbackPayload) (bool, error) {
	status := models.StatusError
	if cb.ErrorCode == "0" {
		status = models.StatusSuccess
	}

	upd := StatusUpdate{
		Status:         status,
		ConversationID: cb.RequestID,
		Message:        cb.Message,
		Raw:            cb.Raw,
	}
	if status == models.StatusError {
		upd.ErrorCode = cb.ErrorCode
	}

	for _, ref := range []string{cb.TransID, cb.RefNo} {
		if ref == "" {
			continue
		}
		matched, err := s.ledger.UpdateByReference(ctx, ref, upd)
		if err != nil {
			return false, err
		}
		if matched {
			s.log.Info("callback applied", zap.String("reference", ref), zap.String("status", string(status)))
			return true, nil
		}
	}

	s.log.Warn("callback for unknown transaction",
		zap.String("ref_no", cb.RefNo),
		zap.String("trans_id", cb.TransID),
	)
	return false, nil
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
