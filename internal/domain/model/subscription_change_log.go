package model

import (
	"database/sql/driver"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubscriptionChangeType enumerates the mutating operations recorded in the
// change log.
type SubscriptionChangeType string

const (
	ChangeTypeCreated          SubscriptionChangeType = "created"
	ChangeTypeRenewed          SubscriptionChangeType = "renewed"
	ChangeTypePlanChanged      SubscriptionChangeType = "plan_changed"
	ChangeTypeCancelled        SubscriptionChangeType = "cancelled"
	ChangeTypeReactivated      SubscriptionChangeType = "reactivated"
	ChangeTypePriceUpdated     SubscriptionChangeType = "price_updated"
	ChangeTypeManualAdjustment SubscriptionChangeType = "manual_adjustment"
)

// Scan implements sql.Scanner interface
func (c *SubscriptionChangeType) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*c = SubscriptionChangeType(v)
	case []byte:
		*c = SubscriptionChangeType(v)
	default:
		*c = ChangeTypeManualAdjustment
	}
	return nil
}

// Value implements driver.Valuer interface
func (c SubscriptionChangeType) Value() (driver.Value, error) {
	return string(c), nil
}

// SubscriptionChangeLog is the append-only audit trail for subscription
// mutations: one row per operation, never updated or deleted. Total order
// per subscription is effective_date, then id.
type SubscriptionChangeLog struct {
	ID             int64                  `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionID int64                  `gorm:"not null;index" json:"subscription_id"`
	ChangeType     SubscriptionChangeType `gorm:"type:subscription_change_type;not null" json:"change_type"`
	OldPlanID      *int64                 `json:"old_plan_id,omitempty"`
	NewPlanID      *int64                 `json:"new_plan_id,omitempty"`
	OldAmount      *decimal.Decimal       `gorm:"type:decimal(15,2)" json:"old_amount,omitempty"`
	NewAmount      *decimal.Decimal       `gorm:"type:decimal(15,2)" json:"new_amount,omitempty"`
	Currency       string                 `gorm:"size:3" json:"currency"`
	Reason         *string                `gorm:"size:255" json:"reason,omitempty"`
	ActingUserID   *uuid.UUID             `gorm:"type:uuid" json:"acting_user_id,omitempty"`
	EffectiveDate  time.Time              `gorm:"not null;index" json:"effective_date"`
	CreatedAt      time.Time              `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for GORM
func (SubscriptionChangeLog) TableName() string {
	return "subscription_change_logs"
}
