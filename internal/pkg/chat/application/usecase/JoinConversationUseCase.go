package usecase

import (
	"context"
	"fmt"

	chat "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/domain"
	repository "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/persistence/repository/port"
)

// JoinConversationInput validates a request to attach a user session to a conversation.
type JoinConversationInput struct {
	ConversationID string
	UserID         string
}

// JoinConversationUseCase ensures the user belongs to the conversation before joining the realtime room.
type JoinConversationUseCase struct {
	Repo repository.ConversationRepository
}

func NewJoinConversationUseCase(repo repository.ConversationRepository) *JoinConversationUseCase {
	return &JoinConversationUseCase{Repo: repo}
}

func (uc *JoinConversationUseCase) Execute(ctx context.Context, in JoinConversationInput) error {
	if in.ConversationID == "" || in.UserID == "" {
		return fmt.Errorf("%w: conversation_id and user_id are required", chat.ErrMalformedEvent)
	}

	ok, err := uc.Repo.IsParticipant(ctx, in.ConversationID, in.UserID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !ok {
		return chat.ErrNotParticipant
	}
	return nil
}
