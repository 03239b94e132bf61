package api

// meetings_crud.go - meeting scheduling endpoints
// Handles: Create, List, Get, Reschedule, Cancel

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/scholarbase/meetsvc/cmd/server/internal/domain/meetings"
)

// HandleCreateMeeting POST /api/v1/meetings
// 创建会议；instant 类型立即可入会，scheduled 类型需带时间
func HandleCreateMeeting(sched *meetings.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in meetings.CreateInput
		if err := c.ShouldBindJSON(&in); err != nil {
			badRequestResponse(c, "invalid request body: "+err.Error())
			return
		}

		req := currentRequester(c)
		ctx := c.Request.Context()
		if req.FoundationID != "" {
			ctx = withFoundation(ctx, req.FoundationID)
		}

		m, err := sched.Create(ctx, req.UserID, in)
		if err != nil {
			if isValidationError(err) {
				badRequestResponse(c, err.Error())
				return
			}
			internalErrorResponse(c, err)
			return
		}
		c.JSON(http.StatusCreated, m)
	}
}

// HandleListMeetings GET /api/v1/meetings
// 按状态过滤，按开始时间排序
func HandleListMeetings(reg *meetings.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		filterStatus := c.Query("status")

		list := reg.List()
		out := make([]*meetings.Meeting, 0, len(list))
		for _, m := range list {
			if filterStatus != "" && string(m.Status) != filterStatus {
				continue
			}
			out = append(out, m)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].StartAt.Equal(out[j].StartAt) {
				return out[i].ID < out[j].ID
			}
			return out[i].StartAt.Before(out[j].StartAt)
		})
		successResponse(c, gin.H{"meetings": out, "total": len(out)})
	}
}

// HandleGetMeeting GET /api/v1/meetings/:id
func HandleGetMeeting(reg *meetings.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := reg.Get(c.Param("id"))
		if m == nil {
			notFoundResponse(c, "meeting")
			return
		}
		successResponse(c, m)
	}
}

// HandleRescheduleMeeting PUT /api/v1/meetings/:id
// 仅组织者，且仅在会议开始前
func HandleRescheduleMeeting(sched *meetings.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in meetings.RescheduleInput
		if err := c.ShouldBindJSON(&in); err != nil {
			badRequestResponse(c, "invalid request body: "+err.Error())
			return
		}

		m, err := sched.Reschedule(c.Request.Context(), currentUser(c), c.Param("id"), in)
		if err != nil {
			writeSchedulerError(c, err)
			return
		}
		successResponse(c, m)
	}
}

// HandleCancelMeeting DELETE /api/v1/meetings/:id
// 取消是终态；记录保留，不删除
func HandleCancelMeeting(sched *meetings.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := sched.Cancel(c.Request.Context(), currentUser(c), c.Param("id"))
		if err != nil {
			writeSchedulerError(c, err)
			return
		}
		successResponse(c, m)
	}
}

func writeSchedulerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, meetings.ErrMeetingNotFound):
		notFoundResponse(c, "meeting")
	case errors.Is(err, meetings.ErrNotOrganizer):
		forbiddenResponse(c, err.Error())
	case errors.Is(err, meetings.ErrAlreadyStarted):
		errorResponse(c, http.StatusConflict, err.Error())
	case isValidationError(err):
		badRequestResponse(c, err.Error())
	default:
		internalErrorResponse(c, err)
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, meetings.ErrEmptyTitle) ||
		errors.Is(err, meetings.ErrInvalidSchedule) ||
		errors.Is(err, meetings.ErrLocationRequired) ||
		errors.Is(err, meetings.ErrInvalidCapacity)
}
