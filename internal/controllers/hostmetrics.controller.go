package controllers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"pideck/internal/logging"
	"pideck/internal/models"
	"pideck/internal/services"

	"github.com/gin-gonic/gin"
)

// HostMetricsController serves the read-only detail endpoints. Every handler
// answers 200; a failed read is logged and replaced with a fixed default.
type HostMetricsController struct {
	source  services.HostMetricsSource
	timeout time.Duration
	logger  *slog.Logger
}

func NewHostMetricsController(source services.HostMetricsSource, timeout time.Duration, logger *slog.Logger) *HostMetricsController {
	return &HostMetricsController{source: source, timeout: timeout, logger: logging.OrDiscard(logger)}
}

var defaultCPUCores = []models.CPUCoreStatus{{Core: "cpu0", Freq: "N/A"}}

func (hc *HostMetricsController) GetFilesystems(c *gin.Context) {
	readOrDefault(c, hc, "filesystems", hc.source.Filesystems, []models.FilesystemUsage{})
}

func (hc *HostMetricsController) GetMounts(c *gin.Context) {
	readOrDefault(c, hc, "mounts", hc.source.Mounts, []models.MountInfo{})
}

func (hc *HostMetricsController) GetRAM(c *gin.Context) {
	readOrDefault(c, hc, "ram", hc.source.RAM, models.MemoryStats{})
}

func (hc *HostMetricsController) GetSwap(c *gin.Context) {
	readOrDefault(c, hc, "swap", hc.source.Swap, models.SwapStats{})
}

func (hc *HostMetricsController) GetCPUFrequency(c *gin.Context) {
	readOrDefault(c, hc, "cpu-freq", hc.source.CPUCores, defaultCPUCores)
}

func (hc *HostMetricsController) GetThermalZones(c *gin.Context) {
	readOrDefault(c, hc, "thermal-zones", hc.source.ThermalZones, []models.ThermalZone{})
}

func readOrDefault[T any](c *gin.Context, hc *HostMetricsController, name string, read func(context.Context) (T, error), fallback T) {
	ctx := c.Request.Context()
	if hc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hc.timeout)
		defer cancel()
	}

	v, err := read(ctx)
	if err != nil {
		hc.logger.Warn("host metric read failed", "metric", name, "error", err)
		c.JSON(http.StatusOK, fallback)
		return
	}
	c.JSON(http.StatusOK, v)
}
