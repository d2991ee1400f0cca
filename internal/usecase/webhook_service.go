package usecase

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/billforge/billing/internal/backoff"
	domainErrors "github.com/billforge/billing/internal/domain/errors"
	"github.com/billforge/billing/internal/domain/model"
	"github.com/billforge/billing/internal/domain/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxStoredResponseBody = 2000

// WebhookService fans domain events out to subscribed endpoints and keeps
// the per-endpoint delivery log. Delivery failures never surface as
// errors; they are recorded on the delivery row and retried through
// RetryFailed with the shared backoff policy.
type WebhookService struct {
	endpointRepo    repository.WebhookEndpointRepository
	deliveryRepo    repository.WebhookDeliveryRepository
	client          *http.Client
	policy          *backoff.Policy
	signatureHeader string
	logger          *zap.Logger
	now             func() time.Time
}

// NewWebhookService creates a new webhook delivery service
func NewWebhookService(
	endpointRepo repository.WebhookEndpointRepository,
	deliveryRepo repository.WebhookDeliveryRepository,
	client *http.Client,
	policy *backoff.Policy,
	signatureHeader string,
	logger *zap.Logger,
) *WebhookService {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if signatureHeader == "" {
		signatureHeader = "X-Billforge-Signature"
	}
	return &WebhookService{
		endpointRepo:    endpointRepo,
		deliveryRepo:    deliveryRepo,
		client:          client,
		policy:          policy,
		signatureHeader: signatureHeader,
		logger:          logger,
		now:             time.Now,
	}
}

// Fanout delivers the event to every active endpoint subscribed to its
// type, creating one delivery row per endpoint. Inactive or non-subscribed
// endpoints never receive a row. Returns the number of deliveries created.
func (s *WebhookService) Fanout(ctx context.Context, eventType string, payload model.JSONB) (int, error) {
	endpoints, err := s.endpointRepo.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, ep := range endpoints {
		if !ep.SubscribedTo(eventType) {
			continue
		}

		delivery := &model.WebhookDelivery{
			EndpointID: ep.ID,
			EventType:  eventType,
			Payload:    payload,
		}
		s.attempt(ctx, ep, delivery)

		if err := s.deliveryRepo.Create(ctx, delivery); err != nil {
			s.logger.Error("failed to record webhook delivery",
				zap.Int64("endpoint_id", ep.ID),
				zap.String("event_type", eventType),
				zap.Error(err))
			return created, fmt.Errorf("failed to record webhook delivery: %w", err)
		}
		created++

		s.recordEndpointStatus(ctx, ep.ID, delivery)
	}

	return created, nil
}

// RetryFailed resubmits deliveries for the endpoint whose recorded
// response was a transient failure and whose retries are below
// maxAttempts. Permanent failures are dead-lettered and never picked up.
// Returns the number of deliveries resubmitted.
func (s *WebhookService) RetryFailed(ctx context.Context, endpointID int64, maxAttempts int) (int, error) {
	ep, err := s.endpointRepo.GetByID(ctx, endpointID)
	if err != nil {
		return 0, err
	}
	if ep == nil {
		return 0, domainErrors.ErrEndpointNotFound
	}

	deliveries, err := s.deliveryRepo.ListRetryable(ctx, endpointID, maxAttempts)
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, d := range deliveries {
		d.Retries++
		s.attempt(ctx, ep, d)

		if err := s.deliveryRepo.Update(ctx, d); err != nil {
			s.logger.Error("failed to update webhook delivery",
				zap.Int64("delivery_id", d.ID),
				zap.Error(err))
			return retried, fmt.Errorf("failed to update webhook delivery: %w", err)
		}
		retried++

		s.recordEndpointStatus(ctx, ep.ID, d)
	}

	return retried, nil
}

// RotateSecret replaces the endpoint's signing secret. Deliveries made
// before the rotation keep their recorded outcomes; only future payloads
// are signed with the new secret.
func (s *WebhookService) RotateSecret(ctx context.Context, endpointID int64) (string, error) {
	ep, err := s.endpointRepo.GetByID(ctx, endpointID)
	if err != nil {
		return "", err
	}
	if ep == nil {
		return "", domainErrors.ErrEndpointNotFound
	}

	newSecret := "whsec_" + uuid.NewString()
	now := s.now().UTC()
	if err := s.endpointRepo.RotateSecret(ctx, endpointID, newSecret, now); err != nil {
		return "", err
	}

	s.logger.Info("webhook endpoint secret rotated",
		zap.Int64("endpoint_id", endpointID))

	return newSecret, nil
}

// TestPing sends a signed test event to the endpoint and records the
// delivery like any other event.
func (s *WebhookService) TestPing(ctx context.Context, endpointID int64) (*model.WebhookDelivery, error) {
	ep, err := s.endpointRepo.GetByID(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	if ep == nil {
		return nil, domainErrors.ErrEndpointNotFound
	}

	delivery := &model.WebhookDelivery{
		EndpointID: ep.ID,
		EventType:  model.EventWebhookTestPing,
		Payload: model.JSONB{
			"endpoint_id": ep.ID,
			"sent_at":     s.now().UTC().Format(time.RFC3339),
		},
	}
	s.attempt(ctx, ep, delivery)

	if err := s.deliveryRepo.Create(ctx, delivery); err != nil {
		return nil, fmt.Errorf("failed to record test ping: %w", err)
	}
	s.recordEndpointStatus(ctx, ep.ID, delivery)

	return delivery, nil
}

// attempt signs and posts the payload, writing the outcome onto the
// delivery row. A request that never completes records status 0.
func (s *WebhookService) attempt(ctx context.Context, ep *model.WebhookEndpoint, delivery *model.WebhookDelivery) {
	now := s.now().UTC()
	delivery.AttemptedAt = now
	delivery.NextRetryAt = nil

	body, err := json.Marshal(delivery.Payload)
	if err != nil {
		delivery.ResponseStatus = 0
		delivery.ResponseBody = "payload marshal failed: " + err.Error()
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		delivery.ResponseStatus = 0
		delivery.ResponseBody = err.Error()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(s.signatureHeader, Sign(ep.Secret, body))
	req.Header.Set("X-Billforge-Event", delivery.EventType)

	resp, err := s.client.Do(req)
	if err != nil {
		delivery.ResponseStatus = 0
		delivery.ResponseBody = err.Error()
	} else {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxStoredResponseBody))
		delivery.ResponseStatus = resp.StatusCode
		delivery.ResponseBody = string(respBody)
	}

	if len(delivery.ResponseBody) > maxStoredResponseBody {
		delivery.ResponseBody = delivery.ResponseBody[:maxStoredResponseBody]
	}

	if !delivery.Delivered() && delivery.TransientFailure() {
		next := s.policy.NextRetryAt(delivery.Retries, now)
		delivery.NextRetryAt = &next
	}

	s.logger.Debug("webhook delivery attempted",
		zap.Int64("endpoint_id", ep.ID),
		zap.String("event_type", delivery.EventType),
		zap.Int("response_status", delivery.ResponseStatus),
		zap.Int("retries", delivery.Retries))
}

func (s *WebhookService) recordEndpointStatus(ctx context.Context, endpointID int64, delivery *model.WebhookDelivery) {
	if err := s.endpointRepo.UpdateDeliveryStatus(ctx, endpointID, delivery.ResponseStatus, delivery.AttemptedAt); err != nil {
		s.logger.Warn("failed to update endpoint delivery status",
			zap.Int64("endpoint_id", endpointID),
			zap.Error(err))
	}
}

// Sign computes the hex HMAC-SHA256 signature of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
