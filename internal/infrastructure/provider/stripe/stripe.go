package stripe

import (
	"context"
	"errors"
	"strings"

	"github.com/billforge/billing/internal/domain/provider"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"go.uber.org/zap"
)

// StripeProvider implements the PaymentProvider interface on top of
// Stripe payment intents.
type StripeProvider struct {
	logger *zap.Logger
}

// NewStripeProvider creates a new Stripe provider. The Stripe API key is
// set globally by the caller.
func NewStripeProvider(secretKey string, logger *zap.Logger) *StripeProvider {
	stripe.Key = secretKey
	return &StripeProvider{
		logger: logger,
	}
}

// GetProviderName returns the provider name
func (s *StripeProvider) GetProviderName() string {
	return "stripe"
}

// ChargeInvoice confirms a payment intent for the invoice total. The
// idempotency key is forwarded to Stripe, so a duplicated call returns
// the original intent instead of charging again.
func (s *StripeProvider) ChargeInvoice(ctx context.Context, req *provider.ChargeRequest) (*provider.ChargeResult, error) {
	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Amount:      stripe.Int64(minorUnits(req.Amount)),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Confirm:     stripe.Bool(true),
		Description: stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	if req.CustomerRef != "" {
		params.Customer = stripe.String(req.CustomerRef)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, classifyError(err)
	}

	result := &provider.ChargeResult{
		ProviderReference: pi.ID,
		ResponseCode:      string(pi.Status),
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		result.Outcome = provider.OutcomeSucceeded
	case stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresPaymentMethod:
		result.Outcome = provider.OutcomeRequiresAction
	default:
		result.Outcome = provider.OutcomeFailed
		result.ResponseMessage = "payment intent not completed"
		result.Transient = true
	}

	s.logger.Info("stripe charge attempted",
		zap.Int64("invoice_id", req.InvoiceID),
		zap.String("payment_intent", pi.ID),
		zap.String("status", string(pi.Status)))

	return result, nil
}

// classifyError maps Stripe errors onto the transient/permanent taxonomy.
// Card declines are permanent; rate limits and server-side errors are
// transient.
func classifyError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return provider.NewTransientError("stripe_unreachable", err.Error())
	}

	code := string(stripeErr.Code)
	if code == "" {
		code = string(stripeErr.Type)
	}

	if stripeErr.HTTPStatusCode == 429 || stripeErr.HTTPStatusCode >= 500 {
		return provider.NewTransientError(code, stripeErr.Msg)
	}
	if stripeErr.Type == stripe.ErrorTypeAPI {
		return provider.NewTransientError(code, stripeErr.Msg)
	}

	return provider.NewPermanentError(code, stripeErr.Msg)
}

func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).IntPart()
}
