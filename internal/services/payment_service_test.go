package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/paygate/internal/models"
)

type fakeProvider struct {
	name     string
	result   ProviderResult
	status   models.TransactionStatus
	requests []PaymentRequest
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Submit(_ context.Context, req PaymentRequest) ProviderResult {
	p.requests = append(p.requests, req)
	return p.result
}

func (p *fakeProvider) QueryStatus(_ context.Context, _ *models.Transaction) (ProviderResult, models.TransactionStatus) {
	return p.result, p.status
}

type memoryLedger struct {
	mu        sync.Mutex
	rows      []models.Transaction
	recordErr error
}

func (l *memoryLedger) Record(_ context.Context, txn *models.Transaction) error {
	if l.recordErr != nil {
		return l.recordErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, *txn)
	return nil
}

func (l *memoryLedger) FindByReference(_ context.Context, ref string) ([]models.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Transaction
	for _, row := range l.rows {
		if matchesReference(row, ref) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (l *memoryLedger) UpdateByReference(_ context.Context, ref string, upd StatusUpdate) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	matched := false
	for i := range l.rows {
		if matchesReference(l.rows[i], ref) {
			l.rows[i].Status = upd.Status
			l.rows[i].ErrorCode = upd.ErrorCode
			if upd.ConversationID != "" {
				id := upd.ConversationID
				l.rows[i].ConversationID = &id
			}
			matched = true
		}
	}
	return matched, nil
}

func (l *memoryLedger) Update(_ context.Context, txn *models.Transaction, upd StatusUpdate) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.rows {
		if l.rows[i].ID == txn.ID {
			l.rows[i].Status = upd.Status
			l.rows[i].ErrorCode = upd.ErrorCode
			return true, nil
		}
	}
	return false, nil
}

func matchesReference(row models.Transaction, ref string) bool {
	if ref == "" {
		return false
	}
	if row.TransactionID != nil && *row.TransactionID == ref {
		return true
	}
	return row.TransactionReference == ref || row.ThirdPartyReference == ref
}

type recordingNotifier struct {
	ch chan PaymentSuccessNotification
}

func (n *recordingNotifier) NotifyPaymentSuccess(_ context.Context, p PaymentSuccessNotification) error {
	n.ch <- p
	return nil
}

var fixedNow = time.Date(2025, 3, 10, 12, 30, 45, 0, time.UTC)

func newTestPayments(ledger Ledger, providers ...Provider) *PaymentService {
	svc := NewPaymentService(ledger, PaymentSettings{
		ReferencePrefix: "MAW",
		CountryCode:     "258",
		Location:        time.UTC,
	}, nopLogger(), providers...)
	return svc.WithClock(func() time.Time { return fixedNow })
}

func TestPaymentService_PayRecordsOneRowPerCall(t *testing.T) {
	outcomes := []ProviderResult{
		{Outcome: OutcomeAccepted, ProviderID: "TX1", ConversationID: "C1", Message: "ok", Raw: []byte(`{}`)},
		{Outcome: OutcomeRejected, ErrorCode: "INS-2006", Message: "Insufficient balance", Raw: []byte(`{}`)},
		{Outcome: OutcomeTransportError, Message: "timeout"},
		{Outcome: OutcomeParseError, Message: "invalid response"},
	}

	for _, result := range outcomes {
		t.Run(result.Outcome.String(), func(t *testing.T) {
			provider := &fakeProvider{name: ProviderMpesa, result: result}
			ledger := &memoryLedger{}
			svc := newTestPayments(ledger, provider)

			out, err := svc.Pay(context.Background(), PaymentInput{
				Kind:    models.TransactionC2B,
				MSISDN:  "84 123 4567",
				Amount:  decimal.RequireFromString("99.90"),
				FromApp: "shop",
			})
			require.NoError(t, err)

			require.Len(t, ledger.rows, 1)
			row := ledger.rows[0]
			assert.Equal(t, "258841234567", row.CustomerMSISDN)
			assert.True(t, row.Amount.Equal(decimal.RequireFromString("99.90")))
			assert.Equal(t, "MAW0310123045", row.TransactionReference)
			assert.Len(t, row.ThirdPartyReference, 20)
			assert.Equal(t, ProviderMpesa, row.Provider)
			assert.Equal(t, result.Outcome.ErrorKind(), row.ErrorKind)
			assert.Equal(t, result.Outcome == OutcomeAccepted, row.Status == models.StatusSuccess)
			require.NotNil(t, row.FromApp)
			assert.Equal(t, "shop", *row.FromApp)

			assert.Equal(t, result.Outcome, out.Result.Outcome)
			require.Len(t, provider.requests, 1)
			assert.Equal(t, row.TransactionReference, provider.requests[0].Reference)
		})
	}
}

func TestPaymentService_PayParseErrorIsNeverSuccess(t *testing.T) {
	provider := &fakeProvider{name: ProviderEmola, result: ProviderResult{Outcome: OutcomeParseError, Message: "soap response: bad"}}
	ledger := &memoryLedger{}
	svc := newTestPayments(ledger, provider)

	out, err := svc.Pay(context.Background(), PaymentInput{
		Provider: ProviderEmola,
		Kind:     models.TransactionC2B,
		MSISDN:   "258861234567",
		Amount:   decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	assert.False(t, out.Result.Success())
	assert.Equal(t, models.StatusError, ledger.rows[0].Status)
	assert.Equal(t, models.ErrorKindParse, ledger.rows[0].ErrorKind)
}

func TestPaymentService_PayPendingStaysPending(t *testing.T) {
	provider := &fakeProvider{name: ProviderEmola, result: ProviderResult{Outcome: OutcomeAccepted, Pending: true, ConversationID: "REQ"}}
	ledger := &memoryLedger{}
	svc := newTestPayments(ledger, provider)

	_, err := svc.Pay(context.Background(), PaymentInput{
		Provider:             ProviderEmola,
		Kind:                 models.TransactionC2B,
		MSISDN:               "258861234567",
		Amount:               decimal.NewFromInt(10),
		TransactionReference: "CUSTOMREF",
		ThirdPartyReference:  "TP-1",
	})
	require.NoError(t, err)

	row := ledger.rows[0]
	assert.Equal(t, models.StatusPending, row.Status)
	assert.Equal(t, "CUSTOMREF", row.TransactionReference)
	assert.Equal(t, "TP-1", row.ThirdPartyReference)
}

func TestPaymentService_PayValidation(t *testing.T) {
	valid := func() PaymentInput {
		return PaymentInput{Kind: models.TransactionC2B, MSISDN: "841234567", Amount: decimal.NewFromInt(5)}
	}

	tests := []struct {
		name   string
		mutate func(in *PaymentInput)
	}{
		{name: "unknown provider", mutate: func(in *PaymentInput) { in.Provider = "paypal" }},
		{name: "bad kind", mutate: func(in *PaymentInput) { in.Kind = "P2P" }},
		{name: "zero amount", mutate: func(in *PaymentInput) { in.Amount = decimal.Zero }},
		{name: "negative amount", mutate: func(in *PaymentInput) { in.Amount = decimal.NewFromInt(-3) }},
		{name: "amount overflows column", mutate: func(in *PaymentInput) { in.Amount = decimal.New(1, 10) }},
		{name: "three decimals", mutate: func(in *PaymentInput) { in.Amount = decimal.RequireFromString("1.005") }},
		{name: "bad msisdn", mutate: func(in *PaymentInput) { in.MSISDN = "84-ABC" }},
		{name: "long reference", mutate: func(in *PaymentInput) { in.TransactionReference = "REF-THAT-IS-WAY-TOO-LONG" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{name: ProviderMpesa, result: ProviderResult{Outcome: OutcomeAccepted}}
			ledger := &memoryLedger{}
			svc := newTestPayments(ledger, provider)

			in := valid()
			tt.mutate(&in)
			_, err := svc.Pay(context.Background(), in)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Empty(t, provider.requests)
			assert.Empty(t, ledger.rows)
		})
	}
}

func TestPaymentService_PayLargestAmount(t *testing.T) {
	provider := &fakeProvider{name: ProviderMpesa, result: ProviderResult{Outcome: OutcomeAccepted}}
	ledger := &memoryLedger{}
	svc := newTestPayments(ledger, provider)

	_, err := svc.Pay(context.Background(), PaymentInput{
		Kind:   models.TransactionC2B,
		MSISDN: "841234567",
		Amount: decimal.RequireFromString("9999999999.99"),
	})
	require.NoError(t, err)
	require.Len(t, ledger.rows, 1)
	assert.Equal(t, "9999999999.99", ledger.rows[0].Amount.StringFixed(2))
}

func TestPaymentService_PayLedgerFailure(t *testing.T) {
	provider := &fakeProvider{name: ProviderMpesa, result: ProviderResult{Outcome: OutcomeAccepted}}
	ledger := &memoryLedger{recordErr: errors.New("db down")}
	svc := newTestPayments(ledger, provider)

	out, err := svc.Pay(context.Background(), PaymentInput{Kind: models.TransactionB2C, MSISDN: "841234567", Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	require.NotNil(t, out)
	assert.True(t, out.Result.Success())
}

func TestPaymentService_NotifiesOnSuccess(t *testing.T) {
	provider := &fakeProvider{name: ProviderMpesa, result: ProviderResult{Outcome: OutcomeAccepted}}
	notifier := &recordingNotifier{ch: make(chan PaymentSuccessNotification, 1)}
	svc := newTestPayments(&memoryLedger{}, provider).WithNotifier(notifier)

	_, err := svc.Pay(context.Background(), PaymentInput{Kind: models.TransactionC2B, MSISDN: "841234567", Amount: decimal.NewFromInt(7)})
	require.NoError(t, err)

	select {
	case n := <-notifier.ch:
		assert.Equal(t, "258841234567", n.MSISDN)
		assert.Equal(t, ProviderMpesa, n.Provider)
	case <-time.After(time.Second):
		t.Fatal("notification not sent")
	}
}

func TestPaymentService_HandleCallback(t *testing.T) {
	ledger := &memoryLedger{rows: []models.Transaction{
		{TransactionReference: "MAW1", ThirdPartyReference: "TP1", Status: models.StatusPending},
		{TransactionReference: "MAW2", ThirdPartyReference: "TP2", Status: models.StatusPending},
	}}
	svc := newTestPayments(ledger)

	matched, err := svc.HandleCallback(context.Background(), CallbackPayload{RefNo: "MAW1", ErrorCode: "0", RequestID: "R1"})
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, models.StatusSuccess, ledger.rows[0].Status)
	assert.Equal(t, "R1", *ledger.rows[0].ConversationID)

	// transId unknown, refNo known
	matched, err = svc.HandleCallback(context.Background(), CallbackPayload{RefNo: "MAW2", TransID: "nope", ErrorCode: "1004"})
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, models.StatusError, ledger.rows[1].Status)
	assert.Equal(t, "1004", ledger.rows[1].ErrorCode)

	matched, err = svc.HandleCallback(context.Background(), CallbackPayload{TransID: "UNKNOWN", ErrorCode: "0"})
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Equal(t, models.StatusSuccess, ledger.rows[0].Status)
	assert.Equal(t, models.StatusError, ledger.rows[1].Status)
}

func TestPaymentService_HandleCallbackPrefersTransID(t *testing.T) {
	ledger := &memoryLedger{rows: []models.Transaction{
		{Provider: ProviderMpesa, TransactionReference: "MAW0310123045", ThirdPartyReference: "AAAA1111", Status: models.StatusSuccess},
		{Provider: ProviderEmola, TransactionReference: "MAW0310123045", ThirdPartyReference: "BBBB2222", Status: models.StatusPending},
	}}
	svc := newTestPayments(ledger)

	matched, err := svc.HandleCallback(context.Background(), CallbackPayload{
		TransID:   "BBBB2222",
		RefNo:     "MAW0310123045",
		ErrorCode: "1",
	})
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, models.StatusSuccess, ledger.rows[0].Status)
	assert.Equal(t, models.StatusError, ledger.rows[1].Status)
}

func TestPaymentService_CheckStatusUpdatesOnlyQueriedRow(t *testing.T) {
	provider := &fakeProvider{name: ProviderMpesa, result: ProviderResult{Outcome: OutcomeAccepted}, status: models.StatusSuccess}
	ledger := &memoryLedger{rows: []models.Transaction{
		{BaseModel: models.BaseModel{ID: uuid.New()}, Provider: ProviderMpesa, TransactionReference: "MAW0310123045", ThirdPartyReference: "AAAA1111", Status: models.StatusPending},
		{BaseModel: models.BaseModel{ID: uuid.New()}, Provider: ProviderMpesa, TransactionReference: "MAW0310123045", ThirdPartyReference: "CCCC3333", Status: models.StatusError},
	}}
	svc := newTestPayments(ledger, provider)

	check, err := svc.CheckStatus(context.Background(), "AAAA1111")
	require.NoError(t, err)
	assert.True(t, check.Updated)
	assert.Equal(t, models.StatusSuccess, ledger.rows[0].Status)
	assert.Equal(t, models.StatusError, ledger.rows[1].Status)
}

func TestPaymentService_CheckStatus(t *testing.T) {
	provider := &fakeProvider{name: ProviderMpesa, result: ProviderResult{Outcome: OutcomeAccepted}, status: models.StatusSuccess}
	ledger := &memoryLedger{rows: []models.Transaction{
		{Provider: ProviderMpesa, TransactionReference: "MAW1", ThirdPartyReference: "TP1", Status: models.StatusPending},
	}}
	svc := newTestPayments(ledger, provider)

	check, err := svc.CheckStatus(context.Background(), "TP1")
	require.NoError(t, err)
	assert.True(t, check.Updated)
	assert.Equal(t, models.StatusSuccess, check.Status)
	assert.Equal(t, models.StatusSuccess, ledger.rows[0].Status)

	_, err = svc.CheckStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}
