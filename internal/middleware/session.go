package middleware

import (
	"net/http"
	"strings"

	"pideck/internal/services"

	"github.com/gin-gonic/gin"
)

const (
	SessionCookie = "pideck_session"
	claimsKey     = "session"
)

// SessionToken returns the session token from the cookie or a bearer
// Authorization header.
func SessionToken(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie
	}
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// RequireSession rejects requests without a valid session. It passes
// everything through when authentication is disabled.
func RequireSession(auth *services.AuthService, security *SecurityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.Enabled() {
			c.Next()
			return
		}

		token := SessionToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, err := auth.Validate(token)
		if err != nil {
			security.LogFailedAuth(c.ClientIP(), err.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// Claims returns the session claims stored by RequireSession, if any.
func Claims(c *gin.Context) (*services.SessionClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*services.SessionClaims)
	return claims, ok
}
