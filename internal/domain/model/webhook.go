package model

import (
	"strings"
	"time"
)

// WebhookEndpoint is an outbound delivery target. eventTypesCsv holds the
// subscribed event types as a comma separated list.
type WebhookEndpoint struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	AppID              int64      `gorm:"not null;index" json:"app_id"`
	URL                string     `gorm:"not null;size:500" json:"url"`
	Secret             string     `gorm:"not null;size:100" json:"-"`
	IsActive           bool       `gorm:"default:true" json:"is_active"`
	EventTypesCsv      string     `gorm:"not null;size:500" json:"event_types_csv"`
	LastDeliveryStatus *int       `json:"last_delivery_status,omitempty"`
	LastDeliveryAt     *time.Time `json:"last_delivery_at,omitempty"`
	SecretRotatedAt    *time.Time `json:"secret_rotated_at,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (WebhookEndpoint) TableName() string {
	return "webhook_endpoints"
}

// SubscribedTo reports whether the endpoint subscribes to eventType.
func (e *WebhookEndpoint) SubscribedTo(eventType string) bool {
	for _, t := range strings.Split(e.EventTypesCsv, ",") {
		if strings.TrimSpace(t) == eventType {
			return true
		}
	}
	return false
}

// WebhookDelivery records one delivery attempt of an event to an endpoint.
// ResponseStatus 0 means the request never completed (timeout, connection
// error).
type WebhookDelivery struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EndpointID     int64      `gorm:"not null;index" json:"endpoint_id"`
	EventType      string     `gorm:"not null;size:100" json:"event_type"`
	Payload        JSONB      `gorm:"type:jsonb;not null" json:"payload"`
	AttemptedAt    time.Time  `gorm:"not null" json:"attempted_at"`
	ResponseStatus int        `gorm:"default:0" json:"response_status"`
	ResponseBody   string     `gorm:"size:2000" json:"response_body"`
	Retries        int        `gorm:"default:0" json:"retries"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Endpoint *WebhookEndpoint `gorm:"foreignKey:EndpointID" json:"endpoint,omitempty"`
}

// TableName specifies the table name for GORM
func (WebhookDelivery) TableName() string {
	return "webhook_deliveries"
}

// TransientFailure reports whether the recorded response allows a retry.
// Permanent client errors are dead-lettered; rate limiting is not.
func (d *WebhookDelivery) TransientFailure() bool {
	return IsTransientDeliveryStatus(d.ResponseStatus)
}

// Delivered reports whether the endpoint acknowledged the event.
func (d *WebhookDelivery) Delivered() bool {
	return d.ResponseStatus >= 200 && d.ResponseStatus < 300
}

// IsTransientDeliveryStatus classifies an HTTP response status for retry
// purposes: 5xx, request timeout, rate limit and never-completed requests
// are transient; every other 4xx is permanent.
func IsTransientDeliveryStatus(status int) bool {
	switch {
	case status == 0:
		return true
	case status == 408 || status == 429:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}
