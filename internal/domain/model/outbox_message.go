package model

import (
	"time"

	"gorm.io/datatypes"
)

// Domain event types written to the outbox.
const (
	EventInvoicePaid             = "invoice.paid"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventInvoiceCanceled         = "invoice.canceled"
	EventSubscriptionCreated     = "subscription.created"
	EventSubscriptionRenewed     = "subscription.renewed"
	EventSubscriptionPlanChanged = "subscription.plan_changed"
	EventSubscriptionCanceled    = "subscription.canceled"
	EventWebhookTestPing         = "webhook.test_ping"
)

// OutboxMessage is a durable domain event, written in the same transaction
// as the mutation it describes. pending (processed_at null) -> processed
// exactly once; rows are only deleted past the retention cutoff.
type OutboxMessage struct {
	ID          int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	Type        string            `gorm:"not null;size:100;index" json:"type"`
	Payload     datatypes.JSONMap `gorm:"not null" json:"payload"`
	OccurredAt  time.Time         `gorm:"not null;index" json:"occurred_at"`
	ProcessedAt *time.Time        `gorm:"index" json:"processed_at,omitempty"`
	Retries     int               `gorm:"default:0" json:"retries"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for GORM
func (OutboxMessage) TableName() string {
	return "outbox_messages"
}

// Pending reports whether the message still awaits dispatch.
func (m *OutboxMessage) Pending() bool {
	return m.ProcessedAt == nil
}
