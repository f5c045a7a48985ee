package controllers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pideck/internal/logging"
	"pideck/internal/middleware"
	"pideck/internal/models"
	"pideck/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// newUpgrader accepts same-origin requests, requests without an Origin
// header and the configured origins.
func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimRight(strings.TrimSpace(o), "/")] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed["*"] || allowed[strings.TrimRight(origin, "/")] {
				return true
			}
			u, err := url.Parse(origin)
			return err == nil && strings.EqualFold(u.Host, r.Host)
		},
	}
}

// LatestSnapshot returns the most recent poll result, if any.
type LatestSnapshot interface {
	Latest() (models.SystemSnapshot, bool)
}

type WebSocketController struct {
	hub      *services.WebSocketHub
	latest   LatestSnapshot
	upgrader websocket.Upgrader
	security *middleware.SecurityLogger
	logger   *slog.Logger
}

func NewWebSocketController(hub *services.WebSocketHub, latest LatestSnapshot, allowedOrigins []string, security *middleware.SecurityLogger, logger *slog.Logger) *WebSocketController {
	return &WebSocketController{
		hub:      hub,
		latest:   latest,
		upgrader: newUpgrader(allowedOrigins),
		security: security,
		logger:   logging.OrDiscard(logger),
	}
}

// HandleWebSocket subscribes the client to live snapshots.
func (wc *WebSocketController) HandleWebSocket(c *gin.Context) {
	ws, err := wc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		wc.logger.Debug("ws upgrade failed", "error", err)
		return
	}

	ip := c.ClientIP()
	client := services.NewClientConnection(uuid.NewString())
	ctx := c.Request.Context()
	if !wc.hub.Register(ctx, client) {
		ws.Close()
		return
	}
	wc.security.LogWebSocketConnected(ip, client.ID)

	if snap, ok := wc.latest.Latest(); ok {
		if msg, err := wc.hub.Message("snapshot", snap); err == nil {
			wc.hub.SendTo(ctx, client.ID, msg)
		}
	}

	go wc.writePump(ws, client)
	wc.readPump(ws)

	wc.hub.Unregister(context.WithoutCancel(ctx), client.ID)
	wc.security.LogWebSocketDisconnected(ip, client.ID)
}

// readPump discards client messages and returns once the socket is gone.
func (wc *WebSocketController) readPump(ws *websocket.Conn) {
	defer ws.Close()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wc.logger.Debug("ws read error", "error", err)
			}
			return
		}
	}
}

func (wc *WebSocketController) writePump(ws *websocket.Conn, client *services.ClientConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
