package entity

import "time"

// MessageKind separates participant-authored messages from lifecycle
// notifications injected by the booking service.
const (
	MessageKindUser   = "user"
	MessageKindSystem = "system"
)

type Message struct {
	ID             string    `json:"id" firestore:"id"`
	ConversationID string    `json:"conversation_id" firestore:"conversationId"`
	SenderID       string    `json:"sender_id,omitempty" firestore:"senderId,omitempty"`
	Text           string    `json:"text" firestore:"text"`
	Kind           string    `json:"kind" firestore:"kind"`
	ReadBy         []string  `json:"read_by" firestore:"readBy"`
	CreatedAt      time.Time `json:"created_at" firestore:"createdAt"`
}

// ReadByUser reports whether userID is already in the readBy set.
func (m *Message) ReadByUser(userID string) bool {
	for _, reader := range m.ReadBy {
		if reader == userID {
			return true
		}
	}
	return false
}

// Before orders messages by (createdAt, id); the id tie-break keeps messages
// with identical timestamps in a stable total order.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
