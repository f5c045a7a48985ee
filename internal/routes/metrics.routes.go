package routes

import (
	"net/http"

	"pideck/internal/controllers"

	"github.com/gin-gonic/gin"
)

func RegisterSystemRoutes(api *gin.RouterGroup, sc *controllers.SystemController) {
	system := api.Group("/system")
	{
		system.GET("/info", sc.GetInfo)
		system.GET("/alerts", sc.GetAlerts)
		system.GET("/history", sc.GetHistory)
	}
}

// RegisterTelemetryRoutes exposes the Prometheus registry.
func RegisterTelemetryRoutes(r *gin.Engine, handler http.Handler) {
	if handler == nil {
		return
	}
	r.GET("/metrics", gin.WrapH(handler))
}
