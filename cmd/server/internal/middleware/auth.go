package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/scholarbase/meetsvc/cmd/server/internal/users"
)

// Context keys set by RequireAuth for downstream handlers.
const (
	CtxClaims   = "claims"
	CtxUsername = "user"
)

// RequireAuth 校验 Bearer token 并注入身份信息
func RequireAuth(mgr *users.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(401, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := mgr.ParseToken(token)
		if err != nil {
			c.AbortWithStatusJSON(401, gin.H{"error": "invalid token"})
			return
		}
		c.Set(CtxClaims, claims)
		c.Set(CtxUsername, claims.Username)
		c.Next()
	}
}

// RequireScope 在 RequireAuth 之后使用，校验单个 scope
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get(CtxClaims)
		if !ok {
			c.AbortWithStatusJSON(401, gin.H{"error": "unauthorized"})
			return
		}
		claims := v.(*users.Claims)
		if !users.HasScope(claims.Scopes, scope) {
			c.AbortWithStatusJSON(403, gin.H{"error": "missing scope: " + scope})
			return
		}
		c.Next()
	}
}

// bearerToken 从 Authorization 头或 token 查询参数提取令牌
// WebSocket 客户端无法自定义头，因此允许查询参数
func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}
