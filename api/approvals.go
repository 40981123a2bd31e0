package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/querylab/orchestrator/domain"
)

// ListApprovals returns a run's approval records in creation order.
// GET /v1/runs/:run_id/approvals
func (h *Handler) ListApprovals(c echo.Context) error {
	runID := c.Param("run_id")

	approvals, err := h.registry.ListApprovals(c.Request().Context(), runID, scopeKey(c, ""))
	if err != nil {
		return jsonError(c, err)
	}
	if approvals == nil {
		approvals = []domain.Approval{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id":    runID,
		"approvals": approvals,
	})
}

// DecideApproval applies a human decision to a pending approval. Repeating
// a decision, or deciding after the run already resolved the approval, is
// a no-op.
// POST /v1/runs/:run_id/approvals/:approval_id/decide
func (h *Handler) DecideApproval(c echo.Context) error {
	var req domain.DecideApprovalRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	req.ScopeKey = scopeKey(c, req.ScopeKey)

	err := h.registry.DecideApproval(c.Request().Context(), c.Param("run_id"), c.Param("approval_id"), req)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "accepted"})
}
