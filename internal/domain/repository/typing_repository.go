package repository

import (
	"context"

	"servana/internal/domain/entity"
)

// TypingRepository persists the last-write-wins typing record per
// (conversation, user). Records are never deleted; staleness is computed by
// readers against entity.TypingFreshnessWindow.
type TypingRepository interface {
	Set(ctx context.Context, state *entity.TypingState) error

	List(ctx context.Context, conversationID string) ([]*entity.TypingState, error)

	// Watch emits the conversation's full set of typing records on every
	// write, starting with the current state. Closed when ctx is cancelled.
	Watch(ctx context.Context, conversationID string) (<-chan []*entity.TypingState, error)
}
