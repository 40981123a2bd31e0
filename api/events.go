package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/querylab/orchestrator/domain"
)

// GetRunEvents returns a run's persisted events in sequence order.
// GET /v1/runs/:run_id/events
func (h *Handler) GetRunEvents(c echo.Context) error {
	runID := c.Param("run_id")
	afterSeq, _ := strconv.ParseInt(c.QueryParam("after_sequence"), 10, 64)

	events, err := h.registry.Events(c.Request().Context(), runID, scopeKey(c, ""), afterSeq, 1000)
	if err != nil {
		return jsonError(c, err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id": runID,
		"events": events,
	})
}

// StreamRunEvents streams a run's events via SSE: full replay first, then
// live events until the run reaches a terminal state.
// GET /v1/runs/:run_id/events/stream
func (h *Handler) StreamRunEvents(c echo.Context) error {
	ctx := c.Request().Context()

	run, err := h.registry.GetRun(c.Param("run_id"), scopeKey(c, ""))
	if err != nil {
		return jsonError(c, err)
	}

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	sub := run.Subscribe()
	defer sub.Unsubscribe()

	h.registry.Metrics().SubscriberConnected(1)
	defer h.registry.Metrics().SubscriberConnected(-1)

	for _, event := range sub.Replay {
		if err := writeSSEEvent(c, event); err != nil {
			return nil // Client went away.
		}
	}
	c.Response().Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-sub.Live:
			if !ok {
				// Run reached a terminal state; all buffered events are
				// flushed, close the stream.
				return nil
			}
			if err := writeSSEEvent(c, event); err != nil {
				return nil
			}
			c.Response().Flush()
		}
	}
}

// writeSSEEvent writes one event in SSE format, the JSON body on a single
// independently parseable data line.
func writeSSEEvent(c echo.Context, event *domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(c.Response().Writer, "event: %s.%s\n", event.Type, event.Subtype); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Response().Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
