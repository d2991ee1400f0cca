package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubscriptionStatus represents the lifecycle state of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusTrial    SubscriptionStatus = "trial"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusExpired  SubscriptionStatus = "expired"
)

// Scan implements sql.Scanner interface
func (s *SubscriptionStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*s = SubscriptionStatus(v)
	case []byte:
		*s = SubscriptionStatus(v)
	default:
		*s = SubscriptionStatusExpired
	}
	return nil
}

// Value implements driver.Valuer interface
func (s SubscriptionStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// RenewalPolicy controls whether an active subscription renews by itself
type RenewalPolicy string

const (
	RenewalPolicyNone   RenewalPolicy = "none"
	RenewalPolicyManual RenewalPolicy = "manual"
	RenewalPolicyAuto   RenewalPolicy = "auto"
)

// Scan implements sql.Scanner interface
func (p *RenewalPolicy) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*p = RenewalPolicy(v)
	case []byte:
		*p = RenewalPolicy(v)
	default:
		*p = RenewalPolicyNone
	}
	return nil
}

// Value implements driver.Valuer interface
func (p RenewalPolicy) Value() (driver.Value, error) {
	return string(p), nil
}

// Subscription is the active row for an (app, user, plan) lineage.
type Subscription struct {
	ID                  int64              `gorm:"primaryKey;autoIncrement" json:"id"`
	AppID               int64              `gorm:"not null;index" json:"app_id"`
	UserID              uuid.UUID          `gorm:"type:uuid;not null;index" json:"user_id"`
	PlanID              int64              `gorm:"not null;index" json:"plan_id"`
	PlanPriceID         *int64             `json:"plan_price_id,omitempty"`
	Status              SubscriptionStatus `gorm:"type:subscription_status;not null;default:'active';index" json:"status"`
	Currency            string             `gorm:"size:3;not null;default:'USD'" json:"currency"`
	UnitPrice           decimal.Decimal    `gorm:"type:decimal(15,2);not null" json:"unit_price"`
	StartAt             time.Time          `gorm:"not null" json:"start_at"`
	CurrentPeriodStart  time.Time          `gorm:"not null" json:"current_period_start"`
	CurrentPeriodEnd    time.Time          `gorm:"not null" json:"current_period_end"`
	TrialEndsAt         *time.Time         `json:"trial_ends_at,omitempty"`
	EndAt               *time.Time         `json:"end_at,omitempty"`
	RenewAt             *time.Time         `gorm:"index" json:"renew_at,omitempty"`
	RenewalPolicy       RenewalPolicy      `gorm:"type:renewal_policy;not null;default:'auto'" json:"renewal_policy"`
	RenewalAttemptCount int                `gorm:"default:0" json:"renewal_attempt_count"`
	NeedsAttention      bool               `gorm:"default:false" json:"needs_attention"`
	LastInvoicedAt      *time.Time         `json:"last_invoiced_at,omitempty"`
	LastInvoiceID       *int64             `json:"last_invoice_id,omitempty"`
	CancellationReason  *string            `gorm:"size:255" json:"cancellation_reason,omitempty"`
	CreatedAt           time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time          `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Plan  *Plan              `gorm:"foreignKey:PlanID" json:"plan,omitempty"`
	Items []SubscriptionItem `gorm:"foreignKey:SubscriptionID" json:"items,omitempty"`
}

// TableName specifies the table name for GORM
func (Subscription) TableName() string {
	return "subscriptions"
}

// ActiveAt reports whether the subscription is usable at the given instant.
// A past end_at makes the subscription inactive regardless of status.
func (s *Subscription) ActiveAt(now time.Time) bool {
	if s.EndAt != nil && !s.EndAt.After(now) {
		return false
	}
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrial ||
		(s.Status == SubscriptionStatusCanceled && s.EndAt != nil && s.EndAt.After(now))
}

// SubscriptionItem is a per-feature allotment derived from the plan's
// feature limits. The set is fully replaced on plan change.
type SubscriptionItem struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionID int64     `gorm:"not null;index" json:"subscription_id"`
	FeatureCode    string    `gorm:"not null;size:100" json:"feature_code"`
	LimitValue     int64     `gorm:"not null" json:"limit_value"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for GORM
func (SubscriptionItem) TableName() string {
	return "subscription_items"
}
