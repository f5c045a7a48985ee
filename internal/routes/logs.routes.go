package routes

import (
	"pideck/internal/controllers"

	"github.com/gin-gonic/gin"
)

func RegisterLogRoutes(api *gin.RouterGroup, lc *controllers.LogsController) {
	logs := api.Group("/logs")
	{
		logs.GET("", lc.ListLogs)
		logs.GET("/:id", lc.GetLog)
		logs.GET("/:id/ws", lc.FollowWebSocket)
		logs.DELETE("/follow/:session", lc.StopFollow)
	}
}
