package api

// meetings_control.go - live-session endpoints
// Handles: Join, Leave, End, Admit, Deny, Kick, Media, Roster

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scholarbase/meetsvc/cmd/server/internal/domain/meetings"
	"github.com/scholarbase/meetsvc/cmd/server/internal/orchestrator"
)

// HandleJoinMeeting POST /api/v1/meetings/:id/join
// 等候室中的客户端轮询本接口直到主持人放行
func HandleJoinMeeting(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			DisplayName string `json:"display_name"`
		}
		// 请求体可为空；display_name 仅作覆盖
		_ = c.ShouldBindJSON(&body)

		req := currentRequester(c)
		if body.DisplayName != "" {
			req.DisplayName = body.DisplayName
		}

		res, err := orch.Join(c.Request.Context(), c.Param("id"), req)
		if err != nil {
			writeControlError(c, err)
			return
		}
		successResponse(c, res)
	}
}

// HandleLeaveMeeting POST /api/v1/meetings/:id/leave
func HandleLeaveMeeting(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := orch.Leave(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
			writeControlError(c, err)
			return
		}
		successResponse(c, gin.H{"left": true})
	}
}

// HandleEndMeeting POST /api/v1/meetings/:id/end
// 幂等；主持人必可结束，联席主持人按配置
func HandleEndMeeting(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := orch.End(c.Request.Context(), c.Param("id"), currentUser(c)); err != nil {
			writeControlError(c, err)
			return
		}
		successResponse(c, gin.H{"ended": true})
	}
}

// HandleAdmitParticipant POST /api/v1/meetings/:id/participants/:user_id/admit
func HandleAdmitParticipant(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := orch.Admit(c.Request.Context(), c.Param("id"), currentUser(c), c.Param("user_id"))
		if err != nil {
			writeControlError(c, err)
			return
		}
		successResponse(c, gin.H{"admitted": true})
	}
}

// HandleDenyParticipant POST /api/v1/meetings/:id/participants/:user_id/deny
func HandleDenyParticipant(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := orch.Deny(c.Request.Context(), c.Param("id"), currentUser(c), c.Param("user_id"))
		if err != nil {
			writeControlError(c, err)
			return
		}
		successResponse(c, gin.H{"denied": true})
	}
}

// HandleKickParticipant POST /api/v1/meetings/:id/participants/:user_id/kick
func HandleKickParticipant(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := orch.Kick(c.Request.Context(), c.Param("id"), currentUser(c), c.Param("user_id"))
		if err != nil {
			writeControlError(c, err)
			return
		}
		successResponse(c, gin.H{"kicked": true})
	}
}

// HandleUpdateMedia PUT /api/v1/meetings/:id/media
// 仅能修改自己的媒体状态；省略的字段保持不变
func HandleUpdateMedia(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var upd orchestrator.MediaUpdate
		if err := c.ShouldBindJSON(&upd); err != nil {
			badRequestResponse(c, "invalid request body: "+err.Error())
			return
		}
		p, err := orch.UpdateMedia(c.Request.Context(), c.Param("id"), currentUser(c), upd)
		if err != nil {
			writeControlError(c, err)
			return
		}
		successResponse(c, p)
	}
}

// HandleGetRoster GET /api/v1/meetings/:id/participants
func HandleGetRoster(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		roster, err := orch.Roster(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeControlError(c, err)
			return
		}
		successResponse(c, gin.H{"participants": roster, "total": len(roster)})
	}
}

// writeControlError 把编排层错误映射到 HTTP 状态码
// 准入拒绝返回 403 并携带机器可读的 reason
func writeControlError(c *gin.Context, err error) {
	var denial *orchestrator.DenialError
	switch {
	case errors.As(err, &denial):
		c.JSON(http.StatusForbidden, gin.H{
			"error":  "join denied",
			"reason": string(denial.Reason),
		})
	case errors.Is(err, meetings.ErrMeetingNotFound):
		notFoundResponse(c, "meeting")
	case errors.Is(err, orchestrator.ErrForbidden):
		forbiddenResponse(c, err.Error())
	case errors.Is(err, orchestrator.ErrNotInMeeting),
		errors.Is(err, orchestrator.ErrNotWaiting),
		errors.Is(err, orchestrator.ErrNotConnected):
		errorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrMeetingInactive):
		errorResponse(c, http.StatusGone, err.Error())
	default:
		internalErrorResponse(c, err)
	}
}
