package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/expander/internal/healthcheck"
)

// HealthHandler serves the aggregated runtime checks.
type HealthHandler struct {
	logger   *slog.Logger
	checkers []healthcheck.Checker
}

func NewHealthHandler(log *slog.Logger, checkers ...healthcheck.Checker) *HealthHandler {
	return &HealthHandler{
		logger:   log.With(slog.String("handler", "health")),
		checkers: checkers,
	}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.HEAD("/health", h.HealthHead)
}

// Health returns 200 while no check is failing and 503 otherwise.
func (h *HealthHandler) Health(c echo.Context) error {
	report := healthcheck.Aggregate(c.Request().Context(), h.checkers...)
	if !report.Healthy() {
		h.logger.Warn("health check failing", slog.String("status", report.Status))
		return c.JSON(http.StatusServiceUnavailable, report)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *HealthHandler) HealthHead(c echo.Context) error {
	report := healthcheck.Aggregate(c.Request().Context(), h.checkers...)
	if !report.Healthy() {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}
