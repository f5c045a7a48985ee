package routes

import (
	"pideck/internal/controllers"

	"github.com/gin-gonic/gin"
)

func RegisterProcessRoutes(api *gin.RouterGroup, sc *controllers.SystemController) {
	api.GET("/system/processes", sc.GetTopProcesses)
}
