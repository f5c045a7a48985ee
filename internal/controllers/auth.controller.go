package controllers

import (
	"errors"
	"net/http"
	"time"

	"pideck/internal/middleware"
	"pideck/internal/services"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Password string `json:"password" binding:"required"`
}

type AuthController struct {
	auth     *services.AuthService
	security *middleware.SecurityLogger
	secure   bool
}

func NewAuthController(auth *services.AuthService, security *middleware.SecurityLogger, secureCookies bool) *AuthController {
	return &AuthController{auth: auth, security: security, secure: secureCookies}
}

func (ac *AuthController) Login(c *gin.Context) {
	if !ac.auth.Enabled() {
		c.JSON(http.StatusOK, gin.H{"authenticated": true, "authDisabled": true})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password required"})
		return
	}

	token, expiresAt, err := ac.auth.Login(req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		ac.security.LogFailedAuth(c.ClientIP(), "wrong password")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	ac.setCookie(c, token, int(time.Until(expiresAt).Seconds()))
	ac.security.LogLogin(c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "expiresAt": expiresAt})
}

// Logout revokes the presented session, if any, and clears the cookie.
func (ac *AuthController) Logout(c *gin.Context) {
	if token := middleware.SessionToken(c); token != "" {
		_ = ac.auth.Revoke(token)
	}
	ac.setCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"authenticated": false})
}

func (ac *AuthController) Session(c *gin.Context) {
	if !ac.auth.Enabled() {
		c.JSON(http.StatusOK, gin.H{"authenticated": true, "authDisabled": true})
		return
	}

	token := middleware.SessionToken(c)
	if token == "" {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	claims, err := ac.auth.Validate(token)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "expiresAt": claims.ExpiresAt.Time})
}

func (ac *AuthController) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.SessionCookie, value, maxAge, "/", "", ac.secure, true)
}
