package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// GetHistory returns history records in a window.
// Query params: window=<seconds> (default and maximum: the retention)
func (sc *SystemController) GetHistory(c *gin.Context) {
	var window time.Duration
	if raw := c.Query("window"); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || secs <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a positive number of seconds"})
			return
		}
		window = time.Duration(secs) * time.Second
	}

	records, err := sc.monitor.GetHistory(c.Request.Context(), window)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read history"})
		return
	}
	c.JSON(http.StatusOK, records)
}
