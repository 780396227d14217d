package task

import (
	"encoding/json"
	"time"

	qport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/queue/port"
	chat "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/domain"
)

// MessageCreatedTaskType is consumed by the message persister, which lives
// outside this service.
const MessageCreatedTaskType = "chat:message_created"

// MessageCreatedTaskPayload is the JSON payload transported via the queue.
// Kept decoupled from domain types to avoid tight coupling with JSON tags.
type MessageCreatedTaskPayload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	CreatedAt      time.Time `json:"createdAt"`
	Body           *string   `json:"body"`
	MsgType        int16     `json:"msgType"`
	AttachmentURL  *string   `json:"attachmentUrl"`
	DedupeKey      *string   `json:"dedupeKey"`
}

// NewMessageCreatedTask builds the queue task for an accepted message.
func NewMessageCreatedTask(m chat.Message) (qport.Task, error) {
	raw, err := json.Marshal(MessageCreatedTaskPayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.Sender.ID,
		CreatedAt:      m.CreatedAt,
		Body:           m.Body,
		MsgType:        int16(m.MsgType),
		AttachmentURL:  m.AttachmentURL,
		DedupeKey:      m.DedupeKey,
	})
	if err != nil {
		return qport.Task{}, err
	}
	return qport.Task{Type: MessageCreatedTaskType, Payload: raw}, nil
}
