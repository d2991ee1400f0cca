package http

import (
	"net/http"
	"strconv"

	"github.com/billforge/billing/internal/domain/repository"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type PlanHandler struct {
	planRepo repository.PlanRepository
	logger   *zap.Logger
}

func NewPlanHandler(planRepo repository.PlanRepository, logger *zap.Logger) *PlanHandler {
	return &PlanHandler{
		planRepo: planRepo,
		logger:   logger,
	}
}

// GetPlans lists the active plans for an app. Public for browsing.
func (h *PlanHandler) GetPlans(c echo.Context) error {
	appID, err := strconv.ParseInt(c.QueryParam("app_id"), 10, 64)
	if err != nil || appID <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "app_id must be a positive integer"})
	}

	plans, err := h.planRepo.ListByApp(c.Request().Context(), appID)
	if err != nil {
		return writeError(c, h.logger, err)
	}

	return c.JSON(http.StatusOK, plans)
}

func (h *PlanHandler) GetPlan(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}

	plan, err := h.planRepo.GetByID(c.Request().Context(), id)
	if err != nil {
		return writeError(c, h.logger, err)
	}
	if plan == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "plan not found"})
	}

	return c.JSON(http.StatusOK, plan)
}
