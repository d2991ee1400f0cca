package http

import (
	"net/http"
	"strconv"

	"github.com/billforge/billing/internal/domain/repository"
	"github.com/billforge/billing/internal/middleware/auth"
	"github.com/billforge/billing/internal/usecase"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type WebhookHandler struct {
	service      *usecase.WebhookService
	endpointRepo repository.WebhookEndpointRepository
	deliveryRepo repository.WebhookDeliveryRepository
	maxAttempts  int
	logger       *zap.Logger
}

func NewWebhookHandler(
	service *usecase.WebhookService,
	endpointRepo repository.WebhookEndpointRepository,
	deliveryRepo repository.WebhookDeliveryRepository,
	maxAttempts int,
	logger *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		service:      service,
		endpointRepo: endpointRepo,
		deliveryRepo: deliveryRepo,
		maxAttempts:  maxAttempts,
		logger:       logger,
	}
}

func (h *WebhookHandler) GetEndpoint(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	endpoint, err := h.endpointRepo.GetByID(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	if endpoint == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "webhook endpoint not found"})
	}

	return c.JSON(http.StatusOK, endpoint)
}

func (h *WebhookHandler) GetDeliveries(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	limit := 50
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit parameter"})
		}
		limit = parsed
	}

	deliveries, err := h.deliveryRepo.ListByEndpoint(c.Request().Context(), id, limit)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, deliveries)
}

// RetryFailed resubmits every delivery for the endpoint whose last
// response was transient and which is still under the attempt cap.
func (h *WebhookHandler) RetryFailed(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	if _, err := auth.RequireOperator(c); err != nil {
		return err
	}

	retried, err := h.service.RetryFailed(c.Request().Context(), id, h.maxAttempts)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"retried": retried})
}

func (h *WebhookHandler) RotateSecret(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	user, err := auth.RequireOperator(c)
	if err != nil {
		return err
	}

	h.logger.Info("Rotating webhook secret",
		zap.Int64("endpoint_id", id),
		zap.String("user_id", user.UserID))

	secret, err := h.service.RotateSecret(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	// The plaintext secret is only returned here, once, at rotation time.
	return c.JSON(http.StatusOK, echo.Map{"secret": secret})
}

func (h *WebhookHandler) TestPing(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	if _, err := auth.RequireOperator(c); err != nil {
		return err
	}

	delivery, err := h.service.TestPing(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, delivery)
}
