package repository

import (
	"context"

	"servana/internal/domain/entity"
)

type MessageRepository interface {
	Create(ctx context.Context, message *entity.Message) error

	// Latest returns the most recent limit messages in ascending order.
	Latest(ctx context.Context, conversationID string, limit int) ([]*entity.Message, error)

	// ListBefore returns up to limit messages strictly older than the cursor
	// message, in ascending order.
	ListBefore(ctx context.Context, conversationID string, before *entity.Message, limit int) ([]*entity.Message, error)

	GetByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error)

	// AddReadBy unions userID into the readBy set of each message. Must be
	// idempotent; unknown message ids are skipped.
	AddReadBy(ctx context.Context, conversationID string, messageIDs []string, userID string) error

	// Watch emits the full current page (latest limit messages, ascending) on
	// every mutation to the conversation, starting with the current state.
	// The channel is closed when ctx is cancelled.
	Watch(ctx context.Context, conversationID string, limit int) (<-chan []*entity.Message, error)
}

type ConversationRepository interface {
	Create(ctx context.Context, conversation *entity.Conversation) error
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	GetByBookingID(ctx context.Context, bookingID string) (*entity.Conversation, error)
	Update(ctx context.Context, conversation *entity.Conversation) error
}
