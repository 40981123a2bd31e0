package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const wsWriteTimeout = 10 * time.Second

// StreamRunEventsWS streams a run's events over a WebSocket: replay first,
// then live events; the connection closes when the run reaches a terminal
// state.
// GET /v1/runs/:run_id/events/ws
func (h *Handler) StreamRunEventsWS(c echo.Context) error {
	run, err := h.registry.GetRun(c.Param("run_id"), scopeKey(c, ""))
	if err != nil {
		return jsonError(c, err)
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("ERROR: failed to upgrade websocket: %v", err)
		return err
	}
	defer ws.Close()

	sub := run.Subscribe()
	defer sub.Unsubscribe()

	h.registry.Metrics().SubscriberConnected(1)
	defer h.registry.Metrics().SubscriberConnected(-1)

	// Reader goroutine: detect client-side close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, event := range sub.Replay {
		ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := ws.WriteJSON(event); err != nil {
			return nil
		}
	}

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-sub.Live:
			if !ok {
				ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
				return nil
			}
			ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteJSON(event); err != nil {
				return nil
			}
		}
	}
}
