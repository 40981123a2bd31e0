// Package api provides HTTP handlers for the orchestrator.
package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/querylab/orchestrator/domain"
	"github.com/querylab/orchestrator/runtime"
)

// Handler handles HTTP requests.
type Handler struct {
	registry *runtime.Registry
}

// NewHandler creates a new handler.
func NewHandler(registry *runtime.Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/runs", h.StartRun)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.POST("/v1/runs/:run_id/cancel", h.CancelRun)

	e.GET("/v1/runs/:run_id/events", h.GetRunEvents)
	e.GET("/v1/runs/:run_id/events/stream", h.StreamRunEvents)
	e.GET("/v1/runs/:run_id/events/ws", h.StreamRunEventsWS)

	e.GET("/v1/runs/:run_id/approvals", h.ListApprovals)
	e.POST("/v1/runs/:run_id/approvals/:approval_id/decide", h.DecideApproval)

	e.GET("/v1/conversations/:conversation_id/messages", h.GetConversationMessages)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// scopeKey resolves the caller's scope key from header or query.
func scopeKey(c echo.Context, bodyValue string) string {
	if bodyValue != "" {
		return bodyValue
	}
	if v := c.Request().Header.Get("X-Scope-Key"); v != "" {
		return v
	}
	return c.QueryParam("scope_key")
}

// jsonError maps domain errors to HTTP status codes.
func jsonError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
