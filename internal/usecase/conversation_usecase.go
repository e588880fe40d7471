package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"servana/internal/domain/entity"
	"servana/internal/domain/repository"
	"servana/internal/infrastructure/ratelimit"
	"servana/pkg/errors"
	"servana/pkg/logger"
)

const DefaultLivePageSize = 50

// ConversationUseCase is the message store: it orders and serves the messages
// of a booking conversation and fans mutations out to live subscribers.
type ConversationUseCase struct {
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
	rateLimiter      *ratelimit.RateLimiter
	sanitizer        *bluemonday.Policy
	livePageSize     int
}

func NewConversationUseCase(
	conversationRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	livePageSize int,
) *ConversationUseCase {
	if livePageSize <= 0 {
		livePageSize = DefaultLivePageSize
	}

	rateLimiter := ratelimit.NewRateLimiter()
	rateLimiter.StartCleanupRoutine()

	return &ConversationUseCase{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		rateLimiter:      rateLimiter,
		sanitizer:        bluemonday.StrictPolicy(),
		livePageSize:     livePageSize,
	}
}

type EnsureConversationInput struct {
	BookingID  string
	CustomerID string
	ProviderID string
}

// EnsureConversation materializes the thread for a booking. Idempotent on the
// booking key; the booking itself is owned by an external service.
func (uc *ConversationUseCase) EnsureConversation(ctx context.Context, input EnsureConversationInput) (*entity.Conversation, error) {
	if input.CustomerID == input.ProviderID {
		return nil, errors.BadRequest("A conversation needs two distinct participants", nil)
	}

	existing, err := uc.conversationRepo.GetByBookingID(ctx, input.BookingID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, "NOT_FOUND") {
		return nil, err
	}

	conversation := &entity.Conversation{
		BookingID:  input.BookingID,
		CustomerID: input.CustomerID,
		ProviderID: input.ProviderID,
	}
	if err := uc.conversationRepo.Create(ctx, conversation); err != nil {
		logger.Error("EnsureConversation: failed to create conversation for booking %s: %v", input.BookingID, err)
		return nil, err
	}

	return conversation, nil
}

func (uc *ConversationUseCase) GetConversation(ctx context.Context, userID, conversationID string) (*entity.Conversation, error) {
	return uc.authorize(ctx, conversationID, userID)
}

// Append sanitizes, persists and fans out a participant message. Failures are
// returned synchronously so the caller can restore the user's draft.
func (uc *ConversationUseCase) Append(ctx context.Context, userID, conversationID, rawText string) (*entity.Message, error) {
	conversation, err := uc.authorize(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}

	allowed, waitTime := uc.rateLimiter.Allow(userID, "send_message")
	if !allowed {
		logger.Warn("Append rate limited: user %s must wait %v", userID, waitTime)
		return nil, errors.TooManyRequests("Rate limit exceeded. Please wait before sending another message", waitTime)
	}

	text, err := uc.sanitize(rawText)
	if err != nil {
		return nil, err
	}

	message := &entity.Message{
		ConversationID: conversationID,
		SenderID:       userID,
		Text:           text,
		Kind:           entity.MessageKindUser,
		ReadBy:         []string{userID},
	}
	if err := uc.messageRepo.Create(ctx, message); err != nil {
		return nil, err
	}

	uc.touchConversation(ctx, conversation, message)

	return message, nil
}

// AppendSystem injects a lifecycle notification from the booking service. It
// has no human sender: senderId stays empty and readBy starts empty, so the
// message never enters anyone's mark-read candidate set.
func (uc *ConversationUseCase) AppendSystem(ctx context.Context, conversationID, rawText string) (*entity.Message, error) {
	conversation, err := uc.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	text, err := uc.sanitize(rawText)
	if err != nil {
		return nil, err
	}

	message := &entity.Message{
		ConversationID: conversationID,
		Text:           text,
		Kind:           entity.MessageKindSystem,
		ReadBy:         []string{},
	}
	if err := uc.messageRepo.Create(ctx, message); err != nil {
		return nil, err
	}

	uc.touchConversation(ctx, conversation, message)

	return message, nil
}

// SubscribeLive returns a stream of full page snapshots: the latest pageSize
// messages in ascending order, re-emitted on every mutation. Errors after
// subscription only end the stream; they are never delivered through it.
func (uc *ConversationUseCase) SubscribeLive(ctx context.Context, userID, conversationID string, pageSize int) (<-chan []*entity.Message, error) {
	if _, err := uc.authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	if pageSize <= 0 {
		pageSize = uc.livePageSize
	}

	return uc.messageRepo.Watch(ctx, conversationID, pageSize)
}

// LoadOlderPage returns up to limit messages strictly older than beforeID in
// ascending order. With an empty cursor it serves the newest page. hasMore is
// a heuristic: a page that exactly fills the limit is assumed to have more,
// which can cost one empty follow-up load at an exact boundary.
func (uc *ConversationUseCase) LoadOlderPage(ctx context.Context, userID, conversationID, beforeID string, limit int) ([]*entity.Message, bool, error) {
	if _, err := uc.authorize(ctx, conversationID, userID); err != nil {
		return nil, false, err
	}

	if limit <= 0 {
		limit = 20
	}

	var (
		messages []*entity.Message
		err      error
	)
	if beforeID == "" {
		messages, err = uc.messageRepo.Latest(ctx, conversationID, limit)
	} else {
		var cursor *entity.Message
		cursor, err = uc.messageRepo.GetByID(ctx, conversationID, beforeID)
		if err != nil {
			return nil, false, err
		}
		messages, err = uc.messageRepo.ListBefore(ctx, conversationID, cursor, limit)
	}
	if err != nil {
		return nil, false, err
	}

	return messages, len(messages) == limit, nil
}

// MarkRead unions userID into the readBy set of each message. Idempotent and
// safe to race across devices of the same user.
func (uc *ConversationUseCase) MarkRead(ctx context.Context, userID, conversationID string, messageIDs []string) error {
	if _, err := uc.authorize(ctx, conversationID, userID); err != nil {
		return err
	}

	if len(messageIDs) == 0 {
		return nil
	}

	return uc.messageRepo.AddReadBy(ctx, conversationID, messageIDs, userID)
}

func (uc *ConversationUseCase) authorize(ctx context.Context, conversationID, userID string) (*entity.Conversation, error) {
	conversation, err := uc.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if !conversation.IsParticipant(userID) {
		logger.Warn("User %s is not a participant of conversation %s", userID, conversationID)
		return nil, errors.Forbidden("You are not a participant of this conversation", nil)
	}

	return conversation, nil
}

func (uc *ConversationUseCase) sanitize(rawText string) (string, error) {
	text := strings.TrimSpace(uc.sanitizer.Sanitize(rawText))
	if text == "" {
		return "", errors.BadRequest("Message text cannot be empty", nil)
	}
	return text, nil
}

// touchConversation refreshes the thread preview. Best-effort: the message is
// already durable, so a failed preview update is only logged.
func (uc *ConversationUseCase) touchConversation(ctx context.Context, conversation *entity.Conversation, message *entity.Message) {
	conversation.LastMessage = message.Text
	conversation.LastMessageAt = message.CreatedAt
	if conversation.LastMessageAt.IsZero() {
		conversation.LastMessageAt = time.Now()
	}

	if err := uc.conversationRepo.Update(ctx, conversation); err != nil {
		logger.Warn("Failed to update conversation %s preview: %v", conversation.ID, err)
	}
}
