package router

import (
	"github.com/labstack/echo/v4"

	"servana/internal/adapter/api/handler"
)

// SetupWebSocketRouter sets up WebSocket routes
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler) {
	// Auth is handled inside the handler: websocket dials carry the token in
	// the query string, not a header.
	e.GET("/ws", wsHandler.HandleWebSocket)
}
