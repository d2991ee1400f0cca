package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoicePaymentStatus represents the payment state of an invoice
type InvoicePaymentStatus string

const (
	InvoiceStatusPending        InvoicePaymentStatus = "pending"
	InvoiceStatusProcessing     InvoicePaymentStatus = "processing"
	InvoiceStatusSucceeded      InvoicePaymentStatus = "succeeded"
	InvoiceStatusFailed         InvoicePaymentStatus = "failed"
	InvoiceStatusCanceled       InvoicePaymentStatus = "canceled"
	InvoiceStatusRequiresAction InvoicePaymentStatus = "requires_action"
)

// Scan implements sql.Scanner interface
func (s *InvoicePaymentStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*s = InvoicePaymentStatus(v)
	case []byte:
		*s = InvoicePaymentStatus(v)
	default:
		*s = InvoiceStatusPending
	}
	return nil
}

// Value implements driver.Valuer interface
func (s InvoicePaymentStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Terminal reports whether no further payment state change is allowed.
func (s InvoicePaymentStatus) Terminal() bool {
	return s == InvoiceStatusSucceeded || s == InvoiceStatusCanceled
}

// Invoice is one billing-period invoice for an (app, user) pair. Invoices
// are never physically deleted; canceled is a soft terminal status.
type Invoice struct {
	ID                  int64                `gorm:"primaryKey;autoIncrement" json:"id"`
	AppID               int64                `gorm:"not null;index" json:"app_id"`
	UserID              uuid.UUID            `gorm:"type:uuid;not null;index" json:"user_id"`
	SubscriptionID      *int64               `gorm:"index" json:"subscription_id,omitempty"`
	PeriodStart         time.Time            `gorm:"not null" json:"period_start"`
	PeriodEnd           time.Time            `gorm:"not null" json:"period_end"`
	Currency            string               `gorm:"size:3;not null;default:'USD'" json:"currency"`
	Subtotal            decimal.Decimal      `gorm:"type:decimal(15,2);not null" json:"subtotal"`
	Tax                 decimal.Decimal      `gorm:"type:decimal(15,2);default:0" json:"tax"`
	Total               decimal.Decimal      `gorm:"type:decimal(15,2);not null" json:"total"`
	PaymentStatus       InvoicePaymentStatus `gorm:"type:invoice_payment_status;not null;default:'pending';index" json:"payment_status"`
	PaymentProvider     string               `gorm:"size:50" json:"payment_provider"`
	PaymentReference    *string              `gorm:"size:255" json:"payment_reference,omitempty"`
	DueDate             *time.Time           `json:"due_date,omitempty"`
	PaidAt              *time.Time           `json:"paid_at,omitempty"`
	FailedAt            *time.Time           `json:"failed_at,omitempty"`
	RequiresAction      bool                 `gorm:"default:false" json:"requires_action"`
	NextRetryAt         *time.Time           `gorm:"index" json:"next_retry_at,omitempty"`
	PaymentAttemptCount int                  `gorm:"default:0" json:"payment_attempt_count"`
	LastAttemptAt       *time.Time           `json:"last_attempt_at,omitempty"`
	LastErrorCode       *string              `gorm:"size:100" json:"last_error_code,omitempty"`
	LastErrorMessage    *string              `json:"last_error_message,omitempty"`
	CancellationReason  *string              `gorm:"size:255" json:"cancellation_reason,omitempty"`
	CanceledAt          *time.Time           `json:"canceled_at,omitempty"`
	CreatedAt           time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time            `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Subscription *Subscription `gorm:"foreignKey:SubscriptionID" json:"subscription,omitempty"`
}

// TableName specifies the table name for GORM
func (Invoice) TableName() string {
	return "invoices"
}

// InvoicePaymentAttempt is an append-only log row, one per payment attempt.
// Rows are immutable once written and owned exclusively by their invoice.
type InvoicePaymentAttempt struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	InvoiceID         int64           `gorm:"not null;index" json:"invoice_id"`
	AttemptedAt       time.Time       `gorm:"not null" json:"attempted_at"`
	Amount            decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"amount"`
	Currency          string          `gorm:"size:3;not null" json:"currency"`
	ResultStatus      string          `gorm:"size:50;not null" json:"result_status"`
	ProviderReference *string         `gorm:"size:255" json:"provider_reference,omitempty"`
	ResponseCode      *string         `gorm:"size:100" json:"response_code,omitempty"`
	ResponseMessage   *string         `json:"response_message,omitempty"`
	RequiresAction    bool            `gorm:"default:false" json:"requires_action"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for GORM
func (InvoicePaymentAttempt) TableName() string {
	return "invoice_payment_attempts"
}
