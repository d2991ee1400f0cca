package http

import (
	"errors"
	"net/http"
	"strconv"

	domainErrors "github.com/billforge/billing/internal/domain/errors"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// pathID parses the :id path parameter.
func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, c.JSON(http.StatusBadRequest, echo.Map{
			"error": "id must be a positive integer",
		})
	}
	return id, nil
}

// writeError maps workflow errors onto HTTP responses. Not-found
// sentinels become 404, validation errors 400, everything else 500.
func writeError(c echo.Context, logger *zap.Logger, err error) error {
	switch {
	case errors.Is(err, domainErrors.ErrInvoiceNotFound),
		errors.Is(err, domainErrors.ErrSubscriptionNotFound),
		errors.Is(err, domainErrors.ErrPlanNotFound),
		errors.Is(err, domainErrors.ErrEndpointNotFound),
		errors.Is(err, domainErrors.ErrOutboxMessageNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case domainErrors.IsValidation(err):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, domainErrors.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	default:
		logger.Error("Request failed",
			zap.String("path", c.Request().URL.Path),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "internal error",
		})
	}
}
