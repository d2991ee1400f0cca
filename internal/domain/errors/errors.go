package errors

import (
	"errors"
	"fmt"
)

// Not-found and validation errors are the only failures that cross the
// workflow boundary; provider and delivery failures are absorbed into
// entity state and observed through reads.
var (
	// ErrInvoiceNotFound indicates an unknown invoice id
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrSubscriptionNotFound indicates an unknown subscription id
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrPlanNotFound indicates an unknown plan id
	ErrPlanNotFound = errors.New("plan not found")

	// ErrEndpointNotFound indicates an unknown webhook endpoint id
	ErrEndpointNotFound = errors.New("webhook endpoint not found")

	// ErrOutboxMessageNotFound indicates an unknown outbox message id
	ErrOutboxMessageNotFound = errors.New("outbox message not found")

	// ErrForbidden indicates the acting user lacks the required role
	ErrForbidden = errors.New("forbidden")
)

// ValidationError is returned for bad input, rejected before any state change.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
