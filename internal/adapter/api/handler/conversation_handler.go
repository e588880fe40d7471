package handler

import (
	"github.com/labstack/echo/v4"

	"servana/internal/adapter/api/middleware"
	"servana/internal/usecase"
	"servana/pkg/errors"
	"servana/pkg/response"
	"servana/pkg/utils"
)

type ConversationHandler struct {
	conversationUseCase *usecase.ConversationUseCase
}

func NewConversationHandler(conversationUseCase *usecase.ConversationUseCase) *ConversationHandler {
	return &ConversationHandler{
		conversationUseCase: conversationUseCase,
	}
}

type createConversationRequest struct {
	BookingID  string `json:"booking_id" validate:"required"`
	CustomerID string `json:"customer_id" validate:"required"`
	ProviderID string `json:"provider_id" validate:"required"`
}

type markReadRequest struct {
	MessageIDs []string `json:"message_ids" validate:"required,min=1"`
}

type systemMessageRequest struct {
	Text string `json:"text" validate:"required"`
}

// CreateConversation materializes the thread for a booking. Idempotent: the
// existing conversation is returned when the booking already has one.
func (h *ConversationHandler) CreateConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	userID := c.Get("uid").(string)
	if userID != req.CustomerID && userID != req.ProviderID && !middleware.HasServiceRole(c) {
		return response.Error(c, errors.Forbidden("You are not a participant of this booking", nil))
	}

	conversation, err := h.conversationUseCase.EnsureConversation(c.Request().Context(), usecase.EnsureConversationInput{
		BookingID:  req.BookingID,
		CustomerID: req.CustomerID,
		ProviderID: req.ProviderID,
	})
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, conversation)
}

// GetConversation gets a specific conversation by ID
func (h *ConversationHandler) GetConversation(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	conversation, err := h.conversationUseCase.GetConversation(c.Request().Context(), userID, conversationID)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, conversation)
}

// GetMessages serves one history page, ascending. With no cursor it returns
// the newest page; with ?before=<message_id> it pages backwards.
func (h *ConversationHandler) GetMessages(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)
	params := utils.GetHistoryParams(c)

	messages, hasMore, err := h.conversationUseCase.LoadOlderPage(c.Request().Context(), userID, conversationID, params.Before, params.Limit)
	if err != nil {
		return response.Error(c, err)
	}

	nextCursor := ""
	if len(messages) > 0 {
		nextCursor = messages[0].ID
	}

	return response.Page(c, messages, nextCursor, hasMore)
}

// MarkRead unions the caller into the readBy set of the listed messages.
func (h *ConversationHandler) MarkRead(c echo.Context) error {
	conversationID := c.Param("id")
	userID := c.Get("uid").(string)

	var req markReadRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	if err := h.conversationUseCase.MarkRead(c.Request().Context(), userID, conversationID, req.MessageIDs); err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, map[string]interface{}{
		"marked": len(req.MessageIDs),
	})
}

// PostSystemMessage lets the booking lifecycle service inject a notification
// into the thread, e.g. "Booking completed".
func (h *ConversationHandler) PostSystemMessage(c echo.Context) error {
	conversationID := c.Param("id")

	var req systemMessageRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	message, err := h.conversationUseCase.AppendSystem(c.Request().Context(), conversationID, req.Text)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, message)
}
