package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/example/paygate/internal/models"
	"github.com/example/paygate/internal/utils"
)

// ErrReferenceTooLong is returned when a row would exceed the provider reference limit.
var ErrReferenceTooLong = fmt.Errorf("reference exceeds %d characters", utils.MaxReferenceLength)

const referenceMatch = "transaction_reference = ? OR transaction_id = ? OR third_party_reference = ?"

// TransactionFilter narrows List. Zero values mean "no filter"; Limit 0 means unbounded.
type TransactionFilter struct {
	MSISDN   string
	Type     models.TransactionType
	FromApp  string
	Provider string
	Status   models.TransactionStatus
	Limit    int
	Offset   int
}

// StatusUpdate carries the fields a callback or status query may change.
type StatusUpdate struct {
	Status         models.TransactionStatus
	TransactionID  string
	ConversationID string
	Message        string
	ErrorCode      string
	Raw            json.RawMessage
}

// DailyReport aggregates one calendar day in the configured timezone.
type DailyReport struct {
	Date               string          `json:"date"`
	TotalSuccessAmount decimal.Decimal `json:"total_amount"`
	SuccessCount       int64           `json:"total_success"`
	ErrorCount         int64           `json:"total_errors"`
}

// LedgerService persists payment attempts and answers reporting queries.
type LedgerService struct {
	db  *gorm.DB
	loc *time.Location
	log *zap.Logger
}

func NewLedgerService(db *gorm.DB, loc *time.Location, log *zap.Logger) *LedgerService {
	if loc == nil {
		loc = time.UTC
	}
	return &LedgerService{db: db, loc: loc, log: log.Named("ledger")}
}

// Record inserts one attempt.
func (s *LedgerService) Record(ctx context.Context, txn *models.Transaction) error {
	if len(txn.TransactionReference) > utils.MaxReferenceLength || len(txn.ThirdPartyReference) > utils.MaxReferenceLength {
		return ErrReferenceTooLong
	}
	txn.Amount = txn.Amount.Round(2)
	if err := s.db.WithContext(ctx).Create(txn).Error; err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

// FindByReference returns every row whose transaction reference, provider transaction
// id or third-party reference equals ref, newest first.
func (s *LedgerService) FindByReference(ctx context.Context, ref string) ([]models.Transaction, error) {
	if ref == "" {
		return nil, nil
	}
	var txns []models.Transaction
	err := s.db.WithContext(ctx).
		Where(referenceMatch, ref, ref, ref).
		Order("created_at DESC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// UpdateByReference applies upd to every row matching ref. It returns false, without
// error, when nothing matched.
func (s *LedgerService) UpdateByReference(ctx context.Context, ref string, upd StatusUpdate) (bool, error) {
	matches, err := s.FindByReference(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("find transaction: %w", err)
	}
	if len(matches) == 0 {
		return false, nil
	}
	return s.apply(ctx, matches, upd)
}

// Update applies upd to txn's row only, leaving rows that share its references alone.
func (s *LedgerService) Update(ctx context.Context, txn *models.Transaction, upd StatusUpdate) (bool, error) {
	return s.apply(ctx, []models.Transaction{*txn}, upd)
}

func (s *LedgerService) apply(ctx context.Context, rows []models.Transaction, upd StatusUpdate) (bool, error) {
	ids := make([]uuid.UUID, 0, len(rows))
	for _, m := range rows {
		ids = append(ids, m.ID)
		if m.Status.Terminal() && m.Status != upd.Status {
			s.log.Warn("overwriting terminal status",
				zap.String("reference", m.TransactionReference),
				zap.String("id", m.ID.String()),
				zap.String("from", string(m.Status)),
				zap.String("to", string(upd.Status)),
			)
		}
	}

	updates := map[string]interface{}{
		"status":     upd.Status,
		"error_code": upd.ErrorCode,
		"error_kind": models.ErrorKindNone,
	}
	if upd.Status == models.StatusError {
		updates["error_kind"] = models.ErrorKindBusiness
	}
	if upd.Message != "" {
		updates["message"] = upd.Message
	}
	if upd.TransactionID != "" {
		updates["transaction_id"] = upd.TransactionID
	}
	if upd.ConversationID != "" {
		updates["conversation_id"] = upd.ConversationID
	}
	if len(upd.Raw) > 0 {
		updates["raw_response"] = datatypes.JSON(upd.Raw)
	}

	result := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id IN ?", ids).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("update transaction: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// List returns rows matching filter, newest first, plus the unpaginated total.
func (s *LedgerService) List(ctx context.Context, filter TransactionFilter) ([]models.Transaction, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Transaction{}).Scopes(filter.scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := s.db.WithContext(ctx).Scopes(filter.scope).Order("created_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}

	var txns []models.Transaction
	if err := query.Find(&txns).Error; err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

func (f TransactionFilter) scope(db *gorm.DB) *gorm.DB {
	if f.MSISDN != "" {
		db = db.Where("customer_msisdn = ?", f.MSISDN)
	}
	if f.Type != "" {
		db = db.Where("transaction_type = ?", string(f.Type))
	}
	if f.FromApp != "" {
		db = db.Where("from_app = ?", f.FromApp)
	}
	if f.Provider != "" {
		db = db.Where("provider = ?", f.Provider)
	}
	if f.Status != "" {
		db = db.Where("status = ?", string(f.Status))
	}
	return db
}

// DailyReport sums successful amounts and counts outcomes for the calendar day of day.
// Failed rows never contribute to the amount.
func (s *LedgerService) DailyReport(ctx context.Context, day time.Time) (*DailyReport, error) {
	day = day.In(s.loc)
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.loc)
	end := start.AddDate(0, 0, 1)

	var row struct {
		TotalSuccessAmount decimal.Decimal
		SuccessCount       int64
		ErrorCount         int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select(
			"COALESCE(SUM(CASE WHEN status = ? THEN amount ELSE 0 END), 0) AS total_success_amount, "+
				"COUNT(CASE WHEN status = ? THEN 1 END) AS success_count, "+
				"COUNT(CASE WHEN status = ? THEN 1 END) AS error_count",
			string(models.StatusSuccess), string(models.StatusSuccess), string(models.StatusError),
		).
		Where("created_at >= ? AND created_at < ?", start, end).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("daily report: %w", err)
	}

	return &DailyReport{
		Date:               start.Format("2006-01-02"),
		TotalSuccessAmount: row.TotalSuccessAmount,
		SuccessCount:       row.SuccessCount,
		ErrorCount:         row.ErrorCount,
	}, nil
}

// MonthlyReport returns one DailyReport per day with activity in [start, end), in
// ascending date order. Days are cut in the configured timezone.
func (s *LedgerService) MonthlyReport(ctx context.Context, start, end time.Time) ([]DailyReport, error) {
	if !end.After(start) {
		return []DailyReport{}, nil
	}

	var rows []struct {
		Day                string
		TotalSuccessAmount decimal.Decimal
		SuccessCount       int64
		ErrorCount         int64
	}
	err := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select(
			"to_char(created_at AT TIME ZONE ?, 'YYYY-MM-DD') AS day, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN amount ELSE 0 END), 0) AS total_success_amount, "+
				"COUNT(CASE WHEN status = ? THEN 1 END) AS success_count, "+
				"COUNT(CASE WHEN status = ? THEN 1 END) AS error_count",
			s.loc.String(), string(models.StatusSuccess), string(models.StatusSuccess), string(models.StatusError),
		).
		Where("created_at >= ? AND created_at < ?", start, end).
		Group("day").
		Order("day ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("monthly report: %w", err)
	}

	reports := make([]DailyReport, 0, len(rows))
	for _, r := range rows {
		reports = append(reports, DailyReport{
			Date:               r.Day,
			TotalSuccessAmount: r.TotalSuccessAmount,
			SuccessCount:       r.SuccessCount,
			ErrorCount:         r.ErrorCount,
		})
	}
	return reports, nil
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
