package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	qport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/queue/port"
	chat "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/domain"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/task"
)

// SendMessageInput carries the data needed to send a new message.
// Room membership is checked by the caller, which owns the live connection.
type SendMessageInput struct {
	ConversationID string
	Sender         chat.Party
	Body           *string
	MsgType        chat.MessageType
	AttachmentURL  *string
	DedupeKey      *string
}

// SendMessageUseCase stamps an accepted message with its id and server time
// and hands it to the persistence queue. Fan-out is left to the caller.
type SendMessageUseCase struct {
	Queue        qport.Client
	PersistQueue string
	Now          func() time.Time
}

// DefaultPersistQueue is the asynq queue the external persister consumes.
const DefaultPersistQueue = "chat_persist"

// NewSendMessageUseCase accepts a nil queue, in which case messages are only
// delivered live and never persisted. An empty persistQueue means
// DefaultPersistQueue.
func NewSendMessageUseCase(queue qport.Client, persistQueue string) *SendMessageUseCase {
	if persistQueue == "" {
		persistQueue = DefaultPersistQueue
	}
	return &SendMessageUseCase{Queue: queue, PersistQueue: persistQueue, Now: time.Now}
}

func (uc *SendMessageUseCase) Execute(ctx context.Context, in SendMessageInput) (*chat.Message, error) {
	msg, err := chat.NewMessage(chat.Message{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		Sender:         in.Sender,
		CreatedAt:      uc.Now().UTC(),
		Body:           in.Body,
		MsgType:        in.MsgType,
		AttachmentURL:  in.AttachmentURL,
		DedupeKey:      in.DedupeKey,
	})
	if err != nil {
		return nil, err
	}

	if uc.Queue == nil {
		return msg, nil
	}

	t, err := task.NewMessageCreatedTask(*msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}
	if _, err := uc.Queue.Enqueue(ctx, t, qport.EnqueueOption{Queue: uc.PersistQueue, MaxRetry: 10, Retention: 24 * time.Hour}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}
	return msg, nil
}
