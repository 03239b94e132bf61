package api

// users.go - authentication and user management endpoints

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scholarbase/meetsvc/cmd/server/internal/users"
)

// HandleLogin POST /api/v1/auth/login
func HandleLogin(mgr *users.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequestResponse(c, "invalid request body")
			return
		}
		u, err := mgr.Authenticate(body.Username, body.Password)
		if err != nil {
			unauthorizedResponse(c, "invalid credentials")
			return
		}
		token, err := mgr.GenerateToken(u.Username)
		if err != nil {
			internalErrorResponse(c, err)
			return
		}
		successResponse(c, gin.H{"token": token, "user": u})
	}
}

// HandleChangePassword POST /api/v1/auth/password
func HandleChangePassword(mgr *users.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			OldPassword string `json:"old_password"`
			NewPassword string `json:"new_password"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequestResponse(c, "invalid request body")
			return
		}
		if err := mgr.ChangePassword(currentUser(c), body.OldPassword, body.NewPassword); err != nil {
			badRequestResponse(c, err.Error())
			return
		}
		successResponse(c, gin.H{"changed": true})
	}
}

// HandleListUsers GET /api/v1/users
func HandleListUsers(mgr *users.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		successResponse(c, gin.H{"users": mgr.ListUsers()})
	}
}

// HandleCreateUser POST /api/v1/users
func HandleCreateUser(mgr *users.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in users.CreateInput
		if err := c.ShouldBindJSON(&in); err != nil {
			badRequestResponse(c, "invalid request body")
			return
		}
		u, err := mgr.CreateUser(in)
		if err != nil {
			badRequestResponse(c, err.Error())
			return
		}
		c.JSON(http.StatusCreated, u)
	}
}

// HandleGetUser GET /api/v1/users/:username
func HandleGetUser(mgr *users.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := mgr.GetUser(c.Param("username"))
		if !ok {
			notFoundResponse(c, "user")
			return
		}
		successResponse(c, u)
	}
}

// HandleUpdateUser PUT /api/v1/users/:username
func HandleUpdateUser(mgr *users.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			DisplayName string   `json:"display_name"`
			Scopes      []string `json:"scopes"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			badRequestResponse(c, "invalid request body")
			return
		}
		u, err := mgr.UpdateUser(c.Param("username"), body.DisplayName, body.Scopes)
		if err != nil {
			notFoundResponse(c, "user")
			return
		}
		successResponse(c, u)
	}
}

// HandleDeleteUser DELETE /api/v1/users/:username
func HandleDeleteUser(mgr *users.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := mgr.DeleteUser(c.Param("username")); err != nil {
			notFoundResponse(c, "user")
			return
		}
		successResponse(c, gin.H{"deleted": true})
	}
}
