package api

// events_ws.go - meeting event stream over WebSocket
// GET /ws/meetings/:id/events pushes roster and lifecycle events. Read-only:
// inbound frames besides pongs are ignored.

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/scholarbase/meetsvc/cmd/server/internal/orchestrator"
	"github.com/scholarbase/meetsvc/pkg/logger"
)

// HandleEventSocket GET /ws/meetings/:id/events
func HandleEventSocket(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		meetingID := c.Param("id")

		ch, cancel, err := orch.Subscribe(c.Request.Context(), meetingID)
		if err != nil {
			writeControlError(c, err)
			return
		}

		conn, err := chatUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			cancel()
			logger.L().Warn("event websocket upgrade failed", "error", err)
			return
		}
		defer cancel()

		go eventDrainPump(conn)

		ticker := time.NewTicker(wsPingInterval)
		defer func() {
			ticker.Stop()
			conn.Close()
		}()
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "meeting ended"),
						time.Now().Add(wsWriteTimeout))
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}

// eventDrainPump keeps the read side alive for pong handling and surfaces
// the client closing the socket.
func eventDrainPump(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	}
}
