package api

// chat_ws.go - in-session chat over WebSocket
// GET /ws/meetings/:id/chat upgrades; inbound frames are {"text": "..."},
// outbound frames are full ChatMessage records in (sent_at, seq) order.

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/scholarbase/meetsvc/cmd/server/internal/chat"
	"github.com/scholarbase/meetsvc/cmd/server/internal/domain/meetings"
	"github.com/scholarbase/meetsvc/pkg/logger"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin policy enforced by the auth token
	},
}

type inboundChatFrame struct {
	Text string `json:"text"`
}

// HandleChatSocket GET /ws/meetings/:id/chat
func HandleChatSocket(svc *chat.Service, reg *meetings.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		meetingID := c.Param("id")
		if reg.Get(meetingID) == nil {
			notFoundResponse(c, "meeting")
			return
		}
		req := currentRequester(c)

		conn, err := chatUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.L().Warn("chat websocket upgrade failed", "error", err)
			return
		}

		sub, cancel, err := svc.Subscribe(meetingID)
		if err != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "chat closed"),
				time.Now().Add(wsWriteTimeout))
			conn.Close()
			return
		}
		defer cancel()

		logger.L().Info("chat client connected", "meeting_id", meetingID, "user", req.UserID)
		// All data frames go through the write pump; the read pump hands it
		// inline error frames over errs so the socket has a single writer.
		errs := make(chan gin.H, 8)
		go chatWritePump(conn, sub, errs)
		chatReadPump(c, conn, svc, meetingID, req, errs)
		logger.L().Info("chat client disconnected", "meeting_id", meetingID, "user", req.UserID)
	}
}

// chatWritePump is the sole writer of data frames: fan-out messages, inline
// error frames from the read pump, and keepalive pings.
func chatWritePump(conn *websocket.Conn, sub *chat.Subscriber, errs <-chan gin.H) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "meeting ended"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case frame := <-errs:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(frame); err != nil {
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

// chatReadPump consumes inbound frames and turns them into sends. It never
// writes data frames itself; errors are handed to the write pump.
func chatReadPump(c *gin.Context, conn *websocket.Conn, svc *chat.Service, meetingID string, req meetings.Requester, errs chan<- gin.H) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.L().Debug("chat read error", "meeting_id", meetingID, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var frame inboundChatFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue // malformed frames are dropped, not fatal
		}
		if _, err := svc.Send(c.Request.Context(), meetingID, req.UserID, req.DisplayName, frame.Text); err != nil {
			if errors.Is(err, chat.ErrRoomClosed) {
				return
			}
			// Validation and membership errors are reported inline; if the
			// error queue is full the frame is dropped like a slow consumer.
			select {
			case errs <- gin.H{"error": err.Error()}:
			default:
			}
		}
	}
}

// HandleSendChat POST /api/v1/meetings/:id/chat
// REST 备选发送通道，供不持有 WebSocket 的客户端使用
func HandleSendChat(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var frame inboundChatFrame
		if err := c.ShouldBindJSON(&frame); err != nil {
			badRequestResponse(c, "invalid request body: "+err.Error())
			return
		}
		req := currentRequester(c)
		msg, err := svc.Send(c.Request.Context(), c.Param("id"), req.UserID, req.DisplayName, frame.Text)
		if err != nil {
			switch {
			case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrMessageTooLong):
				badRequestResponse(c, err.Error())
			case errors.Is(err, chat.ErrNotMember):
				forbiddenResponse(c, err.Error())
			case errors.Is(err, chat.ErrRoomClosed):
				errorResponse(c, http.StatusGone, err.Error())
			default:
				internalErrorResponse(c, err)
			}
			return
		}
		c.JSON(http.StatusCreated, msg)
	}
}
