package websocket

import (
	"context"
	"encoding/json"
	"time"

	"servana/internal/domain/entity"
	"servana/internal/usecase"
	"servana/pkg/logger"
)

// WebSocket message types
const (
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeJoinConversation  = "join_conversation"
	MessageTypeLeaveConversation = "leave_conversation"
	MessageTypeSendMessage       = "send_message"
	MessageTypeTypingStart       = "typing_start"
	MessageTypeTypingStop        = "typing_stop"
	MessageTypePage              = "page"
	MessageTypeTypingIndicator   = "typing_indicator"
	MessageTypeMessageAck        = "message_ack"
	MessageTypeError             = "error"
)

// WSMessage is the envelope for everything crossing the socket.
type WSMessage struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      string      `json:"timestamp"`
}

type SendMessageData struct {
	TempID string `json:"temp_id,omitempty"`
	Text   string `json:"text"`
}

// PageData is the authoritative view: the full ordered page, not a delta.
type PageData struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []*entity.Message `json:"messages"`
	HasMore        bool              `json:"has_more"`
}

type TypingIndicatorData struct {
	ConversationID string `json:"conversation_id"`
	Typing         bool   `json:"typing"`
}

type MessageAckData struct {
	ConversationID string `json:"conversation_id"`
	TempID         string `json:"temp_id,omitempty"`
	MessageID      string `json:"message_id"`
}

type ErrorData struct {
	ConversationID string `json:"conversation_id,omitempty"`
	TempID         string `json:"temp_id,omitempty"`
	Error          string `json:"error"`
}

// HandleClientMessage processes incoming WebSocket messages
func (m *Manager) HandleClientMessage(client *Client, messageBytes []byte) {
	var wsMessage WSMessage

	if err := json.Unmarshal(messageBytes, &wsMessage); err != nil {
		logger.Warn("WebSocket: failed to unmarshal message from client %s: %v", client.UserID, err)
		m.sendErrorToClient(client, "", "", "Invalid message format")
		return
	}

	switch wsMessage.Type {
	case MessageTypePing:
		m.sendToClient(client, WSMessage{
			Type:      MessageTypePong,
			Data:      map[string]string{"status": "alive"},
			Timestamp: time.Now().Format(time.RFC3339),
		})

	case MessageTypeJoinConversation:
		m.handleJoinConversation(client, wsMessage)

	case MessageTypeLeaveConversation:
		m.handleLeaveConversation(client, wsMessage)

	case MessageTypeSendMessage:
		m.handleSendMessage(client, wsMessage)

	case MessageTypeTypingStart:
		m.handleTyping(client, wsMessage, true)

	case MessageTypeTypingStop:
		m.handleTyping(client, wsMessage, false)

	default:
		logger.Warn("WebSocket: unknown message type '%s' from client %s", wsMessage.Type, client.UserID)
		m.sendErrorToClient(client, wsMessage.ConversationID, "", "Unknown message type")
	}
}

// handleJoinConversation opens a feed for the conversation and pumps its
// events to the socket until the client leaves or disconnects.
func (m *Manager) handleJoinConversation(client *Client, wsMessage WSMessage) {
	conversationID := wsMessage.ConversationID
	if conversationID == "" {
		m.sendErrorToClient(client, "", "", "Missing conversation_id")
		return
	}

	feedCtx, cancel := context.WithCancel(context.Background())
	feed := usecase.NewConversationFeed(m.conversations, m.typing, conversationID, client.UserID, 0)

	if err := feed.Open(feedCtx); err != nil {
		cancel()
		logger.Warn("WebSocket: client %s failed to join conversation %s: %v", client.UserID, conversationID, err)
		m.sendErrorToClient(client, conversationID, "", err.Error())
		return
	}

	client.addFeed(conversationID, feed, cancel)

	go m.pumpFeed(feedCtx, client, conversationID, feed)

	logger.Info("WebSocket: client %s joined conversation %s", client.UserID, conversationID)
}

func (m *Manager) pumpFeed(ctx context.Context, client *Client, conversationID string, feed *usecase.ConversationFeed) {
	for {
		select {
		case event := <-feed.Events():
			switch event.Kind {
			case usecase.FeedEventPage:
				m.sendToClient(client, WSMessage{
					Type:           MessageTypePage,
					ConversationID: conversationID,
					Data: PageData{
						ConversationID: conversationID,
						Messages:       event.Messages,
						HasMore:        event.HasMore,
					},
					Timestamp: time.Now().Format(time.RFC3339),
				})

			case usecase.FeedEventTyping:
				m.sendToClient(client, WSMessage{
					Type:           MessageTypeTypingIndicator,
					ConversationID: conversationID,
					Data: TypingIndicatorData{
						ConversationID: conversationID,
						Typing:         event.Typing,
					},
					Timestamp: time.Now().Format(time.RFC3339),
				})

			case usecase.FeedEventError:
				m.sendErrorToClient(client, conversationID, "", event.Err.Error())
			}

		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) handleLeaveConversation(client *Client, wsMessage WSMessage) {
	if wsMessage.ConversationID == "" {
		m.sendErrorToClient(client, "", "", "Missing conversation_id")
		return
	}

	client.removeFeed(wsMessage.ConversationID)
	logger.Info("WebSocket: client %s left conversation %s", client.UserID, wsMessage.ConversationID)
}

func (m *Manager) handleSendMessage(client *Client, wsMessage WSMessage) {
	conversationID := wsMessage.ConversationID
	if conversationID == "" {
		m.sendErrorToClient(client, "", "", "Missing conversation_id")
		return
	}

	dataBytes, err := json.Marshal(wsMessage.Data)
	if err != nil {
		m.sendErrorToClient(client, conversationID, "", "Invalid send message data")
		return
	}

	var sendData SendMessageData
	if err := json.Unmarshal(dataBytes, &sendData); err != nil {
		m.sendErrorToClient(client, conversationID, "", "Invalid send message format")
		return
	}

	feed := client.getFeed(conversationID)
	if feed == nil {
		m.sendErrorToClient(client, conversationID, sendData.TempID, "Join the conversation before sending")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	message, err := feed.SendMessage(ctx, sendData.Text)
	if err != nil {
		// The feed rolled the draft back; tell the client so the text
		// reappears in the input.
		m.sendErrorToClient(client, conversationID, sendData.TempID, err.Error())
		return
	}

	// The new page arrives through the change-stream; the ack only resolves
	// the client's optimistic temp id.
	m.sendToClient(client, WSMessage{
		Type:           MessageTypeMessageAck,
		ConversationID: conversationID,
		Data: MessageAckData{
			ConversationID: conversationID,
			TempID:         sendData.TempID,
			MessageID:      message.ID,
		},
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (m *Manager) handleTyping(client *Client, wsMessage WSMessage, isTyping bool) {
	conversationID := wsMessage.ConversationID
	if conversationID == "" {
		m.sendErrorToClient(client, "", "", "Missing conversation_id")
		return
	}

	feed := client.getFeed(conversationID)
	if feed == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	feed.NotifyTyping(ctx, isTyping)
}

func (m *Manager) sendToClient(client *Client, message WSMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		logger.Error("WebSocket: failed to marshal message for client %s: %v", client.UserID, err)
		return
	}

	select {
	case client.Send <- messageBytes:
	default:
		logger.Warn("WebSocket: client %s send channel full, dropping message", client.UserID)
	}
}

func (m *Manager) sendErrorToClient(client *Client, conversationID, tempID, errorMsg string) {
	m.sendToClient(client, WSMessage{
		Type:           MessageTypeError,
		ConversationID: conversationID,
		Data: ErrorData{
			ConversationID: conversationID,
			TempID:         tempID,
			Error:          errorMsg,
		},
		Timestamp: time.Now().Format(time.RFC3339),
	})
}
