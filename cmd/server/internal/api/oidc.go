package api

// oidc.go - SSO login endpoints, enabled only when OIDC is configured
// The authorization code is exchanged server-side; the resolved external
// identity is mapped onto a local user (auto-provisioned on first login) and
// the response carries the same local token the password login issues.

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/gin-gonic/gin"

	"github.com/scholarbase/meetsvc/cmd/server/internal/idp"
	"github.com/scholarbase/meetsvc/cmd/server/internal/users"
)

// HandleOIDCAuthURL GET /api/v1/auth/oidc/url
func HandleOIDCAuthURL(auth *idp.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := c.Query("state")
		if state == "" {
			state = randomState()
		}
		successResponse(c, gin.H{"url": auth.AuthURL(state), "state": state})
	}
}

// HandleOIDCLogin POST /api/v1/auth/oidc
func HandleOIDCLogin(auth *idp.Authenticator, mgr *users.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Code string `json:"code"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Code == "" {
			badRequestResponse(c, "authorization code required")
			return
		}

		ident, err := auth.Exchange(c.Request.Context(), body.Code)
		if err != nil {
			unauthorizedResponse(c, "external authentication failed")
			return
		}

		u, ok := mgr.GetUser(ident.Username)
		if !ok {
			// First SSO login provisions a local record. The random password
			// is never used; SSO users authenticate through this endpoint.
			u, err = mgr.CreateUser(users.CreateInput{
				Username:     ident.Username,
				DisplayName:  ident.DisplayName,
				FoundationID: ident.FoundationID,
				Password:     randomState(),
				Scopes:       []string{users.ScopeMeetingRead, users.ScopeMeetingWrite},
			})
			if err != nil {
				internalErrorResponse(c, err)
				return
			}
		}

		token, err := mgr.GenerateToken(u.Username)
		if err != nil {
			internalErrorResponse(c, err)
			return
		}
		successResponse(c, gin.H{"token": token, "user": u})
	}
}

func randomState() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "state"
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
