package entity

import "time"

// Conversation is the per-booking thread between a customer and a provider.
// Its existence follows the booking; this service only materializes the
// document so messages and typing state have a scope to live in.
type Conversation struct {
	ID            string    `json:"id" firestore:"id"`
	BookingID     string    `json:"booking_id" firestore:"bookingId"`
	CustomerID    string    `json:"customer_id" firestore:"customerId"`
	ProviderID    string    `json:"provider_id" firestore:"providerId"`
	CreatedAt     time.Time `json:"created_at" firestore:"createdAt"`
	LastMessage   string    `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	LastMessageAt time.Time `json:"last_message_at" firestore:"lastMessageAt"`
}

func (c *Conversation) Participants() []string {
	return []string{c.CustomerID, c.ProviderID}
}

func (c *Conversation) IsParticipant(userID string) bool {
	return userID == c.CustomerID || userID == c.ProviderID
}
