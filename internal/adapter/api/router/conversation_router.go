package router

import (
	"github.com/labstack/echo/v4"

	"servana/internal/adapter/api/handler"
	"servana/internal/adapter/api/middleware"
)

// SetupConversationRouter sets up all conversation routes (excluding WebSocket)
func SetupConversationRouter(e *echo.Echo, conversationHandler *handler.ConversationHandler, authMiddleware *middleware.AuthMiddleware, serviceMiddleware *middleware.ServiceMiddleware) {
	conversationGroup := e.Group("/v1/conversations")
	conversationGroup.Use(authMiddleware.Authenticate)

	conversationGroup.POST("", conversationHandler.CreateConversation)       // POST /v1/conversations - Materialize thread for a booking
	conversationGroup.GET("/:id", conversationHandler.GetConversation)       // GET /v1/conversations/:id - Get specific conversation
	conversationGroup.GET("/:id/messages", conversationHandler.GetMessages)  // GET /v1/conversations/:id/messages - History page
	conversationGroup.PUT("/:id/read", conversationHandler.MarkRead)         // PUT /v1/conversations/:id/read - Mark messages read

	// Booking lifecycle injection (trusted backend callers only)
	conversationGroup.POST("/:id/system-messages", conversationHandler.PostSystemMessage, serviceMiddleware.ServiceOnly)
}
