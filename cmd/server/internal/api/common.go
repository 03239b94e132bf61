package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/scholarbase/meetsvc/cmd/server/internal/domain/meetings"
	"github.com/scholarbase/meetsvc/cmd/server/internal/middleware"
	"github.com/scholarbase/meetsvc/cmd/server/internal/users"
)

// withFoundation 把组织范围注入请求上下文
func withFoundation(ctx context.Context, foundationID string) context.Context {
	return context.WithValue(ctx, meetings.CtxFoundationID, foundationID)
}

// currentUser 获取当前用户
func currentUser(c *gin.Context) string {
	if user, exists := c.Get(middleware.CtxUsername); exists {
		if username, ok := user.(string); ok && username != "" {
			return username
		}
	}
	// 默认返回 system (避免空字符串)
	return "system"
}

// currentRequester 从认证 claims 构造加入请求身份
func currentRequester(c *gin.Context) meetings.Requester {
	if v, exists := c.Get(middleware.CtxClaims); exists {
		if claims, ok := v.(*users.Claims); ok {
			return meetings.Requester{
				UserID:       claims.Username,
				DisplayName:  claims.DisplayName,
				FoundationID: claims.FoundationID,
			}
		}
	}
	return meetings.Requester{UserID: currentUser(c)}
}

// errorResponse 返回错误响应
func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"error": message,
	})
}

// successResponse 返回成功响应
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(200, data)
}

// notFoundResponse 返回 404 响应
func notFoundResponse(c *gin.Context, resource string) {
	c.JSON(404, gin.H{
		"error": resource + " not found",
	})
}

// badRequestResponse 返回 400 响应
func badRequestResponse(c *gin.Context, message string) {
	c.JSON(400, gin.H{
		"error": message,
	})
}

// unauthorizedResponse 返回 401 响应
func unauthorizedResponse(c *gin.Context, message string) {
	if message == "" {
		message = "unauthorized"
	}
	c.JSON(401, gin.H{
		"error": message,
	})
}

// forbiddenResponse 返回 403 响应
func forbiddenResponse(c *gin.Context, message string) {
	if message == "" {
		message = "forbidden"
	}
	c.JSON(403, gin.H{
		"error": message,
	})
}

// internalErrorResponse 返回 500 响应
func internalErrorResponse(c *gin.Context, err error) {
	c.JSON(500, gin.H{
		"error":  "internal server error",
		"detail": err.Error(),
	})
}
