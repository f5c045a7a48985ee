package controllers

import (
	"net/http"
	"strconv"

	"pideck/internal/services"

	"github.com/gin-gonic/gin"
)

const (
	defaultProcessCount = 10
	maxProcessCount     = 20
)

// GetTopProcesses returns the busiest processes.
// Query params: n=<count> (default 10, at most 20)
func (sc *SystemController) GetTopProcesses(c *gin.Context) {
	n, err := strconv.Atoi(c.DefaultQuery("n", strconv.Itoa(defaultProcessCount)))
	if err != nil || n < 1 {
		n = defaultProcessCount
	}
	n = min(n, maxProcessCount)

	procs, err := sc.processes.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, []any{})
		return
	}
	c.JSON(http.StatusOK, services.SelectTopProcesses(procs, n))
}
