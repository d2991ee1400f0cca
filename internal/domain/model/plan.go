package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Plan represents a billable plan scoped to an application.
type Plan struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	AppID     int64           `gorm:"not null;index" json:"app_id"`
	Name      string          `gorm:"not null;size:100" json:"name"`
	Currency  string          `gorm:"size:3;not null;default:'USD'" json:"currency"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(15,2);not null" json:"unit_price"`
	Interval  string          `gorm:"size:20;not null;default:'month'" json:"interval"`
	TrialDays int             `gorm:"default:0" json:"trial_days"`
	IsActive  bool            `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	FeatureLimits []PlanFeatureLimit `gorm:"foreignKey:PlanID" json:"feature_limits,omitempty"`
}

// TableName specifies the table name for GORM
func (Plan) TableName() string {
	return "plans"
}

// PlanFeatureLimit is a per-feature usage limit attached to a plan. Feature
// allotments on a subscription are rebuilt from these rows on plan change.
type PlanFeatureLimit struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	PlanID      int64  `gorm:"not null;index" json:"plan_id"`
	FeatureCode string `gorm:"not null;size:100" json:"feature_code"`
	LimitValue  int64  `gorm:"not null" json:"limit_value"`
}

// TableName specifies the table name for GORM
func (PlanFeatureLimit) TableName() string {
	return "plan_feature_limits"
}
