package routes

import (
	"pideck/internal/controllers"

	"github.com/gin-gonic/gin"
)

func RegisterHostMetricsRoutes(api *gin.RouterGroup, hc *controllers.HostMetricsController) {
	if hc == nil {
		return
	}
	metrics := api.Group("/metrics")
	{
		metrics.GET("/filesystems", hc.GetFilesystems)
		metrics.GET("/mounts", hc.GetMounts)
		metrics.GET("/ram", hc.GetRAM)
		metrics.GET("/swap", hc.GetSwap)
		metrics.GET("/cpu-freq", hc.GetCPUFrequency)
		metrics.GET("/thermal-zones", hc.GetThermalZones)
	}
}
