package controllers

import (
	"context"
	"net/http"
	"time"

	"pideck/internal/models"
	"pideck/internal/services"

	"github.com/gin-gonic/gin"
)

// SnapshotProvider is the part of the monitor the system endpoints use.
type SnapshotProvider interface {
	GetSnapshot(ctx context.Context) models.SystemSnapshot
	GetHistory(ctx context.Context, window time.Duration) ([]models.HistoricalMetricRecord, error)
	GetActiveAlerts() []models.ActiveAlert
}

// ProcessSource lists every process on the host.
type ProcessSource interface {
	List(ctx context.Context) ([]models.ProcessInfo, error)
}

type SystemController struct {
	monitor   SnapshotProvider
	processes ProcessSource
	clock     services.Clock
}

func NewSystemController(monitor SnapshotProvider, processes ProcessSource, clock services.Clock) *SystemController {
	if clock == nil {
		clock = services.SystemClock
	}
	return &SystemController{monitor: monitor, processes: processes, clock: clock}
}

func (sc *SystemController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "ts": sc.clock.Now().UnixMilli()})
}

func (sc *SystemController) GetInfo(c *gin.Context) {
	c.JSON(http.StatusOK, sc.monitor.GetSnapshot(c.Request.Context()))
}

func (sc *SystemController) GetAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, sc.monitor.GetActiveAlerts())
}
