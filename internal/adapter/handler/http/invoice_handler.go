package http

import (
	"net/http"

	"github.com/billforge/billing/internal/domain/repository"
	"github.com/billforge/billing/internal/middleware/auth"
	"github.com/billforge/billing/internal/usecase"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type InvoiceHandler struct {
	workflow    *usecase.InvoiceWorkflow
	invoiceRepo repository.InvoiceRepository
	logger      *zap.Logger
}

func NewInvoiceHandler(workflow *usecase.InvoiceWorkflow, invoiceRepo repository.InvoiceRepository, logger *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{
		workflow:    workflow,
		invoiceRepo: invoiceRepo,
		logger:      logger,
	}
}

func (h *InvoiceHandler) GetInvoice(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	invoice, err := h.invoiceRepo.GetByID(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	if invoice == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "invoice not found"})
	}

	return c.JSON(http.StatusOK, invoice)
}

// RetryInvoice triggers one payment attempt. force=true bypasses the
// backoff schedule and the attempt cap, and is limited to operators.
func (h *InvoiceHandler) RetryInvoice(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	force := c.QueryParam("force") == "true"
	if force {
		if _, err := auth.RequireOperator(c); err != nil {
			return err
		}
	} else if _, err := auth.RequireAuth(c); err != nil {
		return err
	}

	invoice, err := h.workflow.Retry(c.Request().Context(), id, force)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, invoice)
}

type cancelInvoiceRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *InvoiceHandler) CancelInvoice(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	user, err := auth.RequireOperator(c)
	if err != nil {
		return err
	}

	var req cancelInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	h.logger.Info("Canceling invoice",
		zap.Int64("invoice_id", id),
		zap.String("user_id", user.UserID),
		zap.String("reason", req.Reason))

	invoice, err := h.workflow.Cancel(c.Request().Context(), id, req.Reason)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, invoice)
}

func (h *InvoiceHandler) GetAttempts(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	attempts, err := h.workflow.Attempts(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, attempts)
}
