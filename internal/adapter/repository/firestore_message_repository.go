package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"servana/internal/domain/entity"
	"servana/internal/domain/repository"
	"servana/pkg/errors"
	"servana/pkg/logger"
)

type firestoreMessageRepository struct {
	client *firestore.Client
}

func NewFirestoreMessageRepository(client *firestore.Client) repository.MessageRepository {
	return &firestoreMessageRepository{
		client: client,
	}
}

func (r *firestoreMessageRepository) messages(conversationID string) *firestore.CollectionRef {
	return r.client.Collection("conversations").Doc(conversationID).Collection("messages")
}

// pageQuery orders newest-first with the id tie-break so pages are stable even
// when two messages share a timestamp.
func (r *firestoreMessageRepository) pageQuery(conversationID string) firestore.Query {
	return r.messages(conversationID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy("id", firestore.Desc)
}

func (r *firestoreMessageRepository) Create(ctx context.Context, message *entity.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	message.CreatedAt = time.Now()

	_, err := r.messages(message.ConversationID).Doc(message.ID).Set(ctx, message)
	if err != nil {
		return errors.Internal("Failed to create message", err)
	}

	return nil
}

func (r *firestoreMessageRepository) Latest(ctx context.Context, conversationID string, limit int) ([]*entity.Message, error) {
	return r.collect(ctx, r.pageQuery(conversationID).Limit(limit), conversationID)
}

func (r *firestoreMessageRepository) ListBefore(ctx context.Context, conversationID string, before *entity.Message, limit int) ([]*entity.Message, error) {
	query := r.pageQuery(conversationID).
		StartAfter(before.CreatedAt, before.ID).
		Limit(limit)

	return r.collect(ctx, query, conversationID)
}

func (r *firestoreMessageRepository) collect(ctx context.Context, query firestore.Query, conversationID string) ([]*entity.Message, error) {
	iter := query.Documents(ctx)
	var messages []*entity.Message

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while iterating messages for conversation %s: %v", conversationID, err)
			return nil, errors.Internal("Failed to iterate messages", err)
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			logger.Error("Error parsing message data for conversation %s: %v", conversationID, err)
			return nil, errors.Internal("Failed to parse message data", err)
		}

		messages = append(messages, &message)
	}

	reverse(messages)
	return messages, nil
}

func (r *firestoreMessageRepository) GetByID(ctx context.Context, conversationID, messageID string) (*entity.Message, error) {
	doc, err := r.messages(conversationID).Doc(messageID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Message", err)
		}
		return nil, errors.Internal("Failed to get message", err)
	}

	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		return nil, errors.Internal("Failed to parse message data", err)
	}
	return &message, nil
}

func (r *firestoreMessageRepository) AddReadBy(ctx context.Context, conversationID string, messageIDs []string, userID string) error {
	for _, messageID := range messageIDs {
		docRef := r.messages(conversationID).Doc(messageID)

		// ArrayUnion makes the union idempotent server-side, so concurrent
		// sessions of the same user never need coordination.
		_, err := docRef.Update(ctx, []firestore.Update{
			{Path: "readBy", Value: firestore.ArrayUnion(userID)},
		})
		if err != nil {
			if status.Code(err) == codes.NotFound {
				logger.Warn("AddReadBy: message %s not found in conversation %s (may be old/deleted)", messageID, conversationID)
				continue
			}
			return errors.Internal("Failed to update message read status", err)
		}
	}

	return nil
}

func (r *firestoreMessageRepository) Watch(ctx context.Context, conversationID string, limit int) (<-chan []*entity.Message, error) {
	snapshots := r.pageQuery(conversationID).Limit(limit).Snapshots(ctx)
	out := make(chan []*entity.Message)

	go func() {
		defer snapshots.Stop()
		defer close(out)

		for {
			snap, err := snapshots.Next()
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("Firestore snapshot error for conversation %s: %v", conversationID, err)
				}
				return
			}

			docs, err := snap.Documents.GetAll()
			if err != nil {
				logger.Error("Firestore snapshot read error for conversation %s: %v", conversationID, err)
				continue
			}

			var messages []*entity.Message
			for _, doc := range docs {
				var message entity.Message
				if err := doc.DataTo(&message); err != nil {
					logger.Error("Error parsing message snapshot for conversation %s: %v", conversationID, err)
					continue
				}
				messages = append(messages, &message)
			}
			reverse(messages)

			select {
			case out <- messages:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func reverse(messages []*entity.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
