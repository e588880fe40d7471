package router

import (
	"github.com/labstack/echo/v4"

	"servana/internal/adapter/api/handler"
	"servana/internal/adapter/api/middleware"
)

func Setup(
	e *echo.Echo,
	conversationHandler *handler.ConversationHandler,
	wsHandler *handler.WebSocketHandler,
	healthHandler *handler.HealthHandler,
	authMiddleware *middleware.AuthMiddleware,
	serviceMiddleware *middleware.ServiceMiddleware,
) {
	SetupConversationRouter(e, conversationHandler, authMiddleware, serviceMiddleware)
	SetupWebSocketRouter(e, wsHandler)
	SetupHealthRouter(e, healthHandler)
}
