package usecase

import (
	"context"
	"fmt"

	chat "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/domain"
	repository "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/persistence/repository/port"
)

// ListParticipantsInput wraps the conversation identifier to fetch its participants.
type ListParticipantsInput struct {
	ConversationID string
}

// ListParticipantsUseCase returns user IDs for all participants in the conversation.
// An open directory returns none.
type ListParticipantsUseCase struct {
	Repo repository.ConversationRepository
}

func NewListParticipantsUseCase(repo repository.ConversationRepository) *ListParticipantsUseCase {
	return &ListParticipantsUseCase{Repo: repo}
}

func (uc *ListParticipantsUseCase) Execute(ctx context.Context, in ListParticipantsInput) ([]string, error) {
	if in.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", chat.ErrMalformedEvent)
	}

	ids, err := uc.Repo.ListParticipantIDs(ctx, in.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return ids, nil
}
