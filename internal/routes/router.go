package routes

import (
	"net/http"

	"pideck/internal/controllers"
	"pideck/internal/middleware"
	"pideck/internal/services"

	"github.com/gin-gonic/gin"
)

// Handlers bundles the controllers the router mounts.
type Handlers struct {
	System      *controllers.SystemController
	HostMetrics *controllers.HostMetricsController
	Logs        *controllers.LogsController
	Auth        *controllers.AuthController
	WebSocket   *controllers.WebSocketController
	Metrics     http.Handler
}

type Options struct {
	AuthService    *services.AuthService
	Security       *middleware.SecurityLogger
	LoginLimiter   *middleware.RateLimiter
	APILimiter     *middleware.RateLimiter
	Whitelist      *middleware.IPWhitelist
	AllowedOrigins []string
	SecureCookies  bool
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(h Handlers, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.SecurityHeadersMiddleware(opts.SecureCookies))
	r.Use(middleware.CORSMiddleware(opts.AllowedOrigins))
	if opts.Whitelist != nil {
		r.Use(middleware.IPWhitelistMiddleware(opts.Whitelist, opts.Security))
	}

	api := r.Group("/api")
	if opts.APILimiter != nil {
		api.Use(middleware.RateLimitMiddleware(opts.APILimiter, opts.Security))
	}
	api.GET("/health", h.System.Health)

	RegisterAuthRoutes(api, h.Auth, opts.LoginLimiter, opts.Security)

	protected := api.Group("")
	protected.Use(middleware.RequireSession(opts.AuthService, opts.Security))
	RegisterSystemRoutes(protected, h.System)
	RegisterProcessRoutes(protected, h.System)
	RegisterHostMetricsRoutes(protected, h.HostMetrics)
	RegisterLogRoutes(protected, h.Logs)

	RegisterWebSocketRoutes(r, h.WebSocket, middleware.RequireSession(opts.AuthService, opts.Security))
	RegisterTelemetryRoutes(r, h.Metrics)

	return r
}
