package http

import (
	"net/http"
	"time"

	"github.com/billforge/billing/internal/domain/repository"
	"github.com/billforge/billing/internal/middleware/auth"
	"github.com/billforge/billing/internal/usecase"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type SubscriptionHandler struct {
	workflow         *usecase.SubscriptionWorkflow
	subscriptionRepo repository.SubscriptionRepository
	invoiceRepo      repository.InvoiceRepository
	logger           *zap.Logger
}

func NewSubscriptionHandler(
	workflow *usecase.SubscriptionWorkflow,
	subscriptionRepo repository.SubscriptionRepository,
	invoiceRepo repository.InvoiceRepository,
	logger *zap.Logger,
) *SubscriptionHandler {
	return &SubscriptionHandler{
		workflow:         workflow,
		subscriptionRepo: subscriptionRepo,
		invoiceRepo:      invoiceRepo,
		logger:           logger,
	}
}

func (h *SubscriptionHandler) StartSubscription(c echo.Context) error {
	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	var req usecase.StartSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	actingUserID, err := uuid.Parse(user.UserID)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "subject is not a valid UUID"})
	}

	sub, err := h.workflow.Start(c.Request().Context(), &req, actingUserID)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusCreated, sub)
}

func (h *SubscriptionHandler) GetSubscription(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	sub, err := h.subscriptionRepo.GetByID(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	if sub == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "subscription not found"})
	}

	return c.JSON(http.StatusOK, sub)
}

type changePlanRequest struct {
	NewPlanID int64  `json:"new_plan_id" validate:"required"`
	Reason    string `json:"reason" validate:"max=500"`
}

func (h *SubscriptionHandler) ChangePlan(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	var req changePlanRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	actingUserID, err := uuid.Parse(user.UserID)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "subject is not a valid UUID"})
	}

	sub, err := h.workflow.ChangePlan(c.Request().Context(), id, req.NewPlanID, actingUserID, req.Reason)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, sub)
}

type cancelSubscriptionRequest struct {
	EndAt  *time.Time `json:"end_at"`
	Reason string     `json:"reason" validate:"max=500"`
}

func (h *SubscriptionHandler) CancelSubscription(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	user, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	var req cancelSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	actingUserID, err := uuid.Parse(user.UserID)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "subject is not a valid UUID"})
	}

	if err := h.workflow.Cancel(c.Request().Context(), id, req.EndAt, actingUserID, req.Reason); err != nil {
		return writeError(c, h.logger, err)
	}

	return c.NoContent(http.StatusNoContent)
}

// RenewSubscription charges the next period immediately. force=true
// ignores the renewal schedule and is limited to operators.
func (h *SubscriptionHandler) RenewSubscription(c echo.Context) error {
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

	sub, err := h.workflow.Renew(c.Request().Context(), id, force)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, sub)
}

func (h *SubscriptionHandler) RebuildItems(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	user, err := auth.RequireOperator(c)
	if err != nil {
		return err
	}

	actingUserID, err := uuid.Parse(user.UserID)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "subject is not a valid UUID"})
	}

	sub, err := h.workflow.RebuildItemsFromPlan(c.Request().Context(), id, actingUserID)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, sub)
}

func (h *SubscriptionHandler) GetChangeHistory(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	logs, err := h.workflow.ChangeHistory(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, logs)
}

func (h *SubscriptionHandler) GetInvoices(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	invoices, err := h.invoiceRepo.ListBySubscription(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, invoices)
}
