package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageBeforeOrdersByCreatedAt(t *testing.T) {
	now := time.Now()
	first := &Message{ID: "b", CreatedAt: now}
	second := &Message{ID: "a", CreatedAt: now.Add(time.Second)}

	assert.True(t, first.Before(second))
	assert.False(t, second.Before(first))
}

func TestMessageBeforeBreaksTiesByID(t *testing.T) {
	now := time.Now()
	first := &Message{ID: "a", CreatedAt: now}
	second := &Message{ID: "b", CreatedAt: now}

	// Identical timestamps still yield a stable total order.
	assert.True(t, first.Before(second))
	assert.False(t, second.Before(first))
}

func TestMessageReadByUser(t *testing.T) {
	message := &Message{ReadBy: []string{"alice"}}

	assert.True(t, message.ReadByUser("alice"))
	assert.False(t, message.ReadByUser("bob"))
}

func TestConversationIsParticipant(t *testing.T) {
	conversation := &Conversation{CustomerID: "alice", ProviderID: "bob"}

	assert.True(t, conversation.IsParticipant("alice"))
	assert.True(t, conversation.IsParticipant("bob"))
	assert.False(t, conversation.IsParticipant("mallory"))
	assert.Equal(t, []string{"alice", "bob"}, conversation.Participants())
}

func TestTypingStateFresh(t *testing.T) {
	now := time.Now()

	fresh := &TypingState{UpdatedAt: now.Add(-TypingFreshnessWindow / 2)}
	assert.True(t, fresh.Fresh(now))

	stale := &TypingState{UpdatedAt: now.Add(-TypingFreshnessWindow)}
	assert.False(t, stale.Fresh(now))
}
