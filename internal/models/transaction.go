package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// TransactionType is the payment direction.
type TransactionType string

const (
	TransactionC2B TransactionType = "C2B"
	TransactionB2C TransactionType = "B2C"
)

// Valid reports whether t is a known direction.
func (t TransactionType) Valid() bool {
	return t == TransactionC2B || t == TransactionB2C
}

// TransactionStatus is the lifecycle state of one payment attempt.
type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusSuccess TransactionStatus = "success"
	StatusError   TransactionStatus = "error"
)

// Terminal reports whether the status is a final outcome.
func (s TransactionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// ErrorKind tells "provider said no" apart from "we could not reach or understand the provider".
type ErrorKind string

const (
	ErrorKindNone      ErrorKind = ""
	ErrorKindBusiness  ErrorKind = "business"
	ErrorKindTransport ErrorKind = "transport"
	ErrorKindParse     ErrorKind = "parse"
)

// Transaction stores one provider call attempt, successful or not, for audit and reporting.
type Transaction struct {
	BaseModel
	Provider             string            `gorm:"size:20;index" json:"provider"`
	TransactionType      TransactionType   `gorm:"size:10" json:"transaction_type"`
	TransactionID        *string           `gorm:"size:100;index" json:"transaction_id"`
	ConversationID       *string           `gorm:"size:100" json:"conversation_id"`
	TransactionReference string            `gorm:"size:20;index" json:"transaction_reference"`
	ThirdPartyReference  string            `gorm:"size:20;index" json:"third_party_reference"`
	CustomerMSISDN       string            `gorm:"column:customer_msisdn;size:15;index" json:"customer_msisdn"`
	Amount               decimal.Decimal   `gorm:"type:numeric(12,2)" json:"amount"`
	Status               TransactionStatus `gorm:"size:20;index" json:"status"`
	ErrorKind            ErrorKind         `gorm:"size:20" json:"error_kind,omitempty"`
	ErrorCode            string            `gorm:"size:50" json:"error_code,omitempty"`
	Message              string            `gorm:"type:text" json:"message"`
	RawResponse          datatypes.JSON    `gorm:"type:jsonb" json:"raw_response"`
	FromApp              *string           `gorm:"size:100" json:"from_app"`
}
