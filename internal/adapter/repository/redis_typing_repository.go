package repository

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"servana/internal/domain/entity"
	"servana/internal/domain/repository"
	"servana/pkg/errors"
	"servana/pkg/logger"
)

// redisTypingRepository keeps one last-write-wins record per participant in a
// hash keyed by conversation, and publishes on the same key so watchers can
// re-read the hash. No TTL is set: readers apply the freshness window instead.
type redisTypingRepository struct {
	client *redis.Client
}

func NewRedisTypingRepository(client *redis.Client) repository.TypingRepository {
	return &redisTypingRepository{
		client: client,
	}
}

func typingKey(conversationID string) string {
	return "typing:" + conversationID
}

func (r *redisTypingRepository) Set(ctx context.Context, state *entity.TypingState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return errors.Internal("Failed to encode typing state", err)
	}

	key := typingKey(state.ConversationID)
	if err := r.client.HSet(ctx, key, state.UserID, payload).Err(); err != nil {
		return errors.Internal("Failed to store typing state", err)
	}

	if err := r.client.Publish(ctx, key, state.UserID).Err(); err != nil {
		// Watchers will catch up on the next write; the record itself is safe.
		logger.Warn("Failed to publish typing update for conversation %s: %v", state.ConversationID, err)
	}

	return nil
}

func (r *redisTypingRepository) List(ctx context.Context, conversationID string) ([]*entity.TypingState, error) {
	fields, err := r.client.HGetAll(ctx, typingKey(conversationID)).Result()
	if err != nil {
		return nil, errors.Internal("Failed to fetch typing state", err)
	}

	var states []*entity.TypingState
	for userID, payload := range fields {
		var state entity.TypingState
		if err := json.Unmarshal([]byte(payload), &state); err != nil {
			logger.Warn("Skipping malformed typing record for user %s in conversation %s: %v", userID, conversationID, err)
			continue
		}
		states = append(states, &state)
	}

	return states, nil
}

func (r *redisTypingRepository) Watch(ctx context.Context, conversationID string) (<-chan []*entity.TypingState, error) {
	pubsub := r.client.Subscribe(ctx, typingKey(conversationID))

	// Force the subscription to be established before the initial read so no
	// write can slip between them unobserved.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.Internal("Failed to subscribe to typing updates", err)
	}

	out := make(chan []*entity.TypingState)

	go func() {
		defer pubsub.Close()
		defer close(out)

		emit := func() bool {
			states, err := r.List(ctx, conversationID)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("Failed to read typing state for conversation %s: %v", conversationID, err)
				}
				return true
			}
			select {
			case out <- states:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}

		updates := pubsub.Channel()
		for {
			select {
			case _, ok := <-updates:
				if !ok {
					return
				}
				if !emit() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
