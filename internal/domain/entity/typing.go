package entity

import "time"

// TypingFreshnessWindow is the maximum age of a typing record before every
// reader treats it as expired. There is no server-side delete: a crashed
// client's last "typing" write must not be trusted forever, so readers all
// apply the same staleness arithmetic.
const TypingFreshnessWindow = 3 * time.Second

// TypingState is the single live record per (conversation, user).
// Writes overwrite; history is never kept.
type TypingState struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	IsTyping       bool      `json:"is_typing"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Fresh reports whether the record is still inside the freshness window.
func (t *TypingState) Fresh(now time.Time) bool {
	return now.Sub(t.UpdatedAt) < TypingFreshnessWindow
}
