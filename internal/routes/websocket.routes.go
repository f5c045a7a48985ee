package routes

import (
	"pideck/internal/controllers"

	"github.com/gin-gonic/gin"
)

// RegisterWebSocketRoutes registers the live snapshot socket.
func RegisterWebSocketRoutes(r *gin.Engine, wc *controllers.WebSocketController, auth gin.HandlerFunc) {
	r.GET("/ws", auth, wc.HandleWebSocket)
}
