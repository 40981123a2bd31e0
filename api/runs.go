package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/querylab/orchestrator/domain"
)

// StartRun creates a run and launches its driver.
// POST /v1/runs
func (h *Handler) StartRun(c echo.Context) error {
	var req domain.StartRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	req.ScopeKey = scopeKey(c, req.ScopeKey)

	resp, err := h.registry.StartRun(c.Request().Context(), req)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusAccepted, resp)
}

// GetRun returns the run's status/result snapshot.
// GET /v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	snap, err := h.registry.Snapshot(c.Param("run_id"), scopeKey(c, ""))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// CancelRun requests interruption of a run.
// POST /v1/runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	var req domain.CancelRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	runID := c.Param("run_id")

	outcome, err := h.registry.CancelRun(runID, req.Reason, scopeKey(c, req.ScopeKey))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, domain.CancelRunResponse{RunID: runID, Outcome: outcome})
}

// GetConversationMessages returns a conversation's messages in display order.
// GET /v1/conversations/:conversation_id/messages
func (h *Handler) GetConversationMessages(c echo.Context) error {
	ctx := c.Request().Context()
	conversationID := c.Param("conversation_id")

	conv, err := h.registry.Store().GetConversation(ctx, conversationID)
	if err != nil {
		return jsonError(c, err)
	}
	if conv == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	}
	if key := scopeKey(c, ""); key != "" && conv.ScopeKey != key {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	}

	messages, err := h.registry.Store().GetMessages(ctx, conversationID, 200)
	if err != nil {
		return jsonError(c, err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversation_id": conversationID,
		"messages":        messages,
	})
}
