package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentProvider is the single outbound payment call the invoice workflow
// needs. Implementations must honour the idempotency key: a duplicated
// call with the same key never charges twice.
type PaymentProvider interface {
	// ChargeInvoice attempts to collect the invoice total.
	ChargeInvoice(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)

	// GetProviderName returns the provider name
	GetProviderName() string
}

// ChargeRequest represents a provider-agnostic charge attempt
type ChargeRequest struct {
	InvoiceID      int64           `json:"invoice_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key"`
	CustomerRef    string          `json:"customer_ref,omitempty"`
	Description    string          `json:"description,omitempty"`
}

// ChargeOutcome classifies the result of a charge attempt
type ChargeOutcome string

const (
	// OutcomeSucceeded means funds were collected
	OutcomeSucceeded ChargeOutcome = "succeeded"
	// OutcomeRequiresAction means the provider needs additional customer
	// verification before the charge can complete
	OutcomeRequiresAction ChargeOutcome = "requires_action"
	// OutcomeFailed means the charge did not complete
	OutcomeFailed ChargeOutcome = "failed"
)

// ChargeResult captures the provider response for the attempt log.
type ChargeResult struct {
	Outcome           ChargeOutcome `json:"outcome"`
	ProviderReference string        `json:"provider_reference,omitempty"`
	ResponseCode      string        `json:"response_code,omitempty"`
	ResponseMessage   string        `json:"response_message,omitempty"`
	PaidAt            *time.Time    `json:"paid_at,omitempty"`
	// Transient marks a failed outcome as retryable (network error,
	// provider 5xx). Permanent failures require a forced retry.
	Transient bool `json:"transient"`
}

// Error is a classified provider failure. It is recorded on the invoice,
// never surfaced to the workflow caller.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Transient bool   `json:"transient"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewTransientError marks a failure as retryable
func NewTransientError(code, message string) *Error {
	return &Error{Code: code, Message: message, Transient: true}
}

// NewPermanentError marks a failure as non-retryable
func NewPermanentError(code, message string) *Error {
	return &Error{Code: code, Message: message, Transient: false}
}
