package routes

import (
	"pideck/internal/controllers"
	"pideck/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterAuthRoutes registers login, logout and session status. Login is
// rate limited per client IP.
func RegisterAuthRoutes(api *gin.RouterGroup, ac *controllers.AuthController, limiter *middleware.RateLimiter, security *middleware.SecurityLogger) {
	auth := api.Group("/auth")
	{
		if limiter != nil {
			auth.POST("/login", middleware.RateLimitMiddleware(limiter, security), ac.Login)
		} else {
			auth.POST("/login", ac.Login)
		}
		auth.POST("/logout", ac.Logout)
		auth.GET("/session", ac.Session)
	}
}
