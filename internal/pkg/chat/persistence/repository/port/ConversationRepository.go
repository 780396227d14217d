package repository

import "context"

// ConversationRepository answers participant questions about conversations.
// The realtime server never writes conversations; ownership stays with the
// dealership backend.
type ConversationRepository interface {
	IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error)
	ListParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
}
