package adapter

import (
	"context"

	repository "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/persistence/repository/port"
)

// OpenConversationRepository is used when no directory database is configured:
// every authenticated user may join any conversation and no participant list
// is known.
type OpenConversationRepository struct{}

func NewOpenConversationRepository() OpenConversationRepository {
	return OpenConversationRepository{}
}

var _ repository.ConversationRepository = OpenConversationRepository{}

func (OpenConversationRepository) IsParticipant(context.Context, string, string) (bool, error) {
	return true, nil
}

func (OpenConversationRepository) ListParticipantIDs(context.Context, string) ([]string, error) {
	return nil, nil
}
