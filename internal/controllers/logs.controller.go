package controllers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pideck/internal/logging"
	"pideck/internal/models"
	"pideck/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const streamErrorEvent = "stream-error"

// LogCatalog lists the viewable logs.
type LogCatalog interface {
	List(order services.LogOrder) []models.LogCatalogEntry
}

type LogTailer interface {
	Tail(ctx context.Context, req services.TailRequest) (models.TailResult, error)
}

type LogFollower interface {
	Follow(ctx context.Context, id, grep string) (*services.FollowSession, error)
	Stop(sessionID string) bool
}

type LogsControllerConfig struct {
	DefaultLines int
	Keepalive    time.Duration
}

type LogsController struct {
	catalog  LogCatalog
	tailer   LogTailer
	follower LogFollower
	upgrader websocket.Upgrader
	cfg      LogsControllerConfig
	logger   *slog.Logger
}

func NewLogsController(cfg LogsControllerConfig, catalog LogCatalog, tailer LogTailer, follower LogFollower, allowedOrigins []string, logger *slog.Logger) *LogsController {
	if cfg.DefaultLines <= 0 {
		cfg.DefaultLines = services.DefaultTailLines
	}
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = 25 * time.Second
	}
	return &LogsController{
		catalog:  catalog,
		tailer:   tailer,
		follower: follower,
		upgrader: newUpgrader(allowedOrigins),
		cfg:      cfg,
		logger:   logging.OrDiscard(logger),
	}
}

// ListLogs returns the catalog.
// Query params: sort=mtime|name (default mtime)
func (lc *LogsController) ListLogs(c *gin.Context) {
	order := services.OrderModTime
	if c.Query("sort") == string(services.OrderName) {
		order = services.OrderName
	}
	c.JSON(http.StatusOK, lc.catalog.List(order))
}

// GetLog returns the tail of a log, or streams it as server-sent events
// when follow=1.
// Query params: tail=<lines>, grep=<pattern>, follow=1, format=text
func (lc *LogsController) GetLog(c *gin.Context) {
	id := c.Param("id")
	grep := c.Query("grep")

	if c.Query("follow") == "1" {
		lc.followSSE(c, id, grep)
		return
	}

	lines := lc.cfg.DefaultLines
	if raw := c.Query("tail"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			lines = n
		}
	}

	res, err := lc.tailer.Tail(c.Request.Context(), services.TailRequest{ID: id, Lines: lines, Grep: grep})
	if err != nil {
		lc.writeLogError(c, id, err)
		return
	}

	if c.Query("format") == "text" {
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(res.Content))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (lc *LogsController) followSSE(c *gin.Context, id, grep string) {
	ctx := c.Request.Context()
	session, err := lc.follower.Follow(ctx, id, grep)
	if err != nil {
		lc.writeLogError(c, id, err)
		return
	}
	defer session.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Follow-Session", session.ID)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepalive := time.NewTicker(lc.cfg.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-keepalive.C:
			if _, err := io.WriteString(c.Writer, ":keepalive\n\n"); err != nil {
				return
			}
			c.Writer.Flush()

		case ev, ok := <-session.Events():
			if !ok {
				return
			}
			if ev.Error != "" {
				c.SSEvent(streamErrorEvent, gin.H{"error": ev.Error})
				c.Writer.Flush()
				return
			}
			c.SSEvent("", gin.H{"line": ev.Line})
			c.Writer.Flush()
		}
	}
}

type followControl struct {
	Type string `json:"type"`
}

// FollowWebSocket streams a log over a websocket. The client ends the
// session by sending {"type":"stop"} or closing the socket.
func (lc *LogsController) FollowWebSocket(c *gin.Context) {
	id := c.Param("id")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	session, err := lc.follower.Follow(ctx, id, c.Query("grep"))
	if err != nil {
		lc.writeLogError(c, id, err)
		return
	}
	defer session.Stop()

	conn, err := lc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		lc.logger.Debug("follow websocket upgrade failed", "id", id, "error", err)
		return
	}
	defer conn.Close()

	go func() {
		defer cancel()
		for {
			var msg followControl
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "stop" {
				return
			}
		}
	}()

	_ = conn.WriteJSON(gin.H{"type": "session", "session": session.ID})

	keepalive := time.NewTicker(lc.cfg.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return

		case <-keepalive.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}

		case ev, ok := <-session.Events():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if ev.Error != "" {
				_ = conn.WriteJSON(gin.H{"type": "error", "error": ev.Error})
				return
			}
			if err := conn.WriteJSON(gin.H{"type": "line", "line": ev.Line}); err != nil {
				return
			}
		}
	}
}

// StopFollow ends a follow session started by another request.
func (lc *LogsController) StopFollow(c *gin.Context) {
	if !lc.follower.Stop(c.Param("session")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such session"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (lc *LogsController) writeLogError(c *gin.Context, id string, err error) {
	status, msg := logErrorStatus(err)
	if status >= http.StatusInternalServerError {
		lc.logger.Warn("log request failed", "id", id, "error", err)
	}
	c.JSON(status, gin.H{"error": msg})
}

func logErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrLogNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, services.ErrLogForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, services.ErrLogNotAccessible):
		return http.StatusForbidden, "not accessible"
	case errors.Is(err, services.ErrLogUnavailable):
		return http.StatusServiceUnavailable, "log temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
