package handler

import (
	"net/http"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"servana/internal/infrastructure/firebase"
	ws "servana/internal/infrastructure/websocket"
	"servana/pkg/errors"
)

type WebSocketHandler struct {
	wsManager  *ws.Manager
	authClient *firebase.FirebaseAuthClient
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // You should restrict this in production
	},
}

func NewWebSocketHandler(wsManager *ws.Manager, authClient *firebase.FirebaseAuthClient) *WebSocketHandler {
	return &WebSocketHandler{
		wsManager:  wsManager,
		authClient: authClient,
	}
}

// HandleWebSocket upgrades the connection. Browsers cannot set headers on
// websocket dials, so the token also rides the query string.
func (h *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return errors.Unauthorized("Authentication token required", nil)
	}

	userID, err := h.authClient.VerifyTokenUID(c.Request().Context(), token)
	if err != nil {
		return errors.Unauthorized("Invalid or expired token", err)
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return errors.Internal("Failed to upgrade connection", err)
	}

	client := ws.NewClient(userID, conn)
	h.wsManager.Register <- client

	go client.ReadPump(h.wsManager)
	go client.WritePump()

	return nil
}
