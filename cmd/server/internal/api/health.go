package api

// health.go - liveness and readiness probes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scholarbase/meetsvc/cmd/server/internal/config"
	"github.com/scholarbase/meetsvc/cmd/server/internal/domain/meetings"
)

// HandleHealth GET /health
func HandleHealth(cfg *config.Config, reg *meetings.Registry, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		successResponse(c, gin.H{
			"status":        "ok",
			"env":           cfg.Server.Env,
			"uptime":        time.Since(startTime).Round(time.Second).String(),
			"live_meetings": reg.CountByStatus(meetings.StatusLive),
		})
	}
}

// HandleReadiness GET /readiness
// 就绪探针：校验持久层可读
func HandleReadiness(store meetings.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if _, err := store.LoadMeetings(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
		successResponse(c, gin.H{"status": "ready"})
	}
}
