package http

import (
	"net/http"
	"time"

	"github.com/billforge/billing/internal/domain/model"
	"github.com/billforge/billing/internal/domain/repository"
	"github.com/billforge/billing/internal/middleware/auth"
	"github.com/billforge/billing/internal/usecase"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// OpsHandler exposes the internal operations surface: running one outbox
// dispatch cycle on demand, injecting events into the outbox and sweeping
// retryable work without waiting for the background schedule.
type OpsHandler struct {
	dispatcher    *usecase.Dispatcher
	invoices      *usecase.InvoiceWorkflow
	subscriptions *usecase.SubscriptionWorkflow
	outboxRepo    repository.OutboxRepository
	logger        *zap.Logger
}

func NewOpsHandler(
	dispatcher *usecase.Dispatcher,
	invoices *usecase.InvoiceWorkflow,
	subscriptions *usecase.SubscriptionWorkflow,
	outboxRepo repository.OutboxRepository,
	logger *zap.Logger,
) *OpsHandler {
	return &OpsHandler{
		dispatcher:    dispatcher,
		invoices:      invoices,
		subscriptions: subscriptions,
		outboxRepo:    outboxRepo,
		logger:        logger,
	}
}

func (h *OpsHandler) DispatchOutbox(c echo.Context) error {
	if _, err := auth.RequireOperator(c); err != nil {
		return err
	}

	dispatched, err := h.dispatcher.DispatchPending(c.Request().Context())
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"dispatched": dispatched})
}

type enqueueEventRequest struct {
	Type    string                 `json:"type" validate:"required,max=100"`
	Payload map[string]interface{} `json:"payload"`
}

// EnqueueEvent appends an event to the outbox directly, bypassing the
// domain workflows. Used to replay an event to subscribed endpoints after
// a consumer-side incident.
func (h *OpsHandler) EnqueueEvent(c echo.Context) error {
	if _, err := auth.RequireOperator(c); err != nil {
		return err
	}

	var req enqueueEventRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	msg := &model.OutboxMessage{
		Type:       req.Type,
		Payload:    datatypes.JSONMap(req.Payload),
		OccurredAt: time.Now().UTC(),
	}
	if err := h.outboxRepo.Enqueue(c.Request().Context(), msg); err != nil {
		return writeError(c, h.logger, err)
	}

	h.logger.Info("event enqueued manually",
		zap.Int64("message_id", msg.ID),
		zap.String("type", msg.Type))

	return c.JSON(http.StatusCreated, echo.Map{"id": msg.ID})
}

type cleanupOutboxRequest struct {
	RetentionHours int `json:"retention_hours" validate:"min=1"`
}

func (h *OpsHandler) CleanupOutbox(c echo.Context) error {
	if _, err := auth.RequireOperator(c); err != nil {
		return err
	}

	req := cleanupOutboxRequest{RetentionHours: 72}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	cutoff := time.Now().UTC().Add(-time.Duration(req.RetentionHours) * time.Hour)
	removed, err := h.dispatcher.CleanupProcessed(c.Request().Context(), cutoff)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"removed": removed})
}

func (h *OpsHandler) SweepInvoices(c echo.Context) error {
	if _, err := auth.RequireOperator(c); err != nil {
		return err
	}

	attempted, err := h.invoices.SweepRetryable(c.Request().Context(), 100)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"attempted": attempted})
}

func (h *OpsHandler) SweepRenewals(c echo.Context) error {
	if _, err := auth.RequireOperator(c); err != nil {
		return err
	}

	renewed, err := h.subscriptions.SweepRenewals(c.Request().Context(), 100)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, echo.Map{"renewed": renewed})
}
