package chat

import (
	"strings"
	"time"
)

// MessageType represents type of message content
// 0=text, 1=image, 2=file, 3=system
type MessageType int16

const (
	MessageTypeText   MessageType = 0
	MessageTypeImage  MessageType = 1
	MessageTypeFile   MessageType = 2
	MessageTypeSystem MessageType = 3
)

// Message is a chat message accepted by the realtime server. It is handed to
// the persistence queue and fanned out as a NewMessageEvent.
type Message struct {
	ID             string
	ConversationID string
	Sender         Party
	CreatedAt      time.Time
	Body           *string
	MsgType        MessageType
	AttachmentURL  *string
	DedupeKey      *string
}

// NewMessage trims the body and checks that a non-system message has content.
func NewMessage(m Message) (*Message, error) {
	if m.ConversationID == "" || m.Sender.ID == "" {
		return nil, ErrMalformedEvent
	}

	if m.Body != nil {
		trimmed := strings.TrimSpace(*m.Body)
		if trimmed == "" {
			m.Body = nil
		} else {
			m.Body = &trimmed
		}
	}
	if m.AttachmentURL != nil && strings.TrimSpace(*m.AttachmentURL) == "" {
		m.AttachmentURL = nil
	}

	if m.MsgType != MessageTypeSystem && m.Body == nil && m.AttachmentURL == nil {
		return nil, ErrEmptyMessage
	}

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	return &m, nil
}

// Event projects the message onto the wire event.
func (m Message) Event() NewMessageEvent {
	e := NewMessageEvent{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		MsgType:        m.MsgType,
		CreatedAt:      m.CreatedAt,
	}
	if m.Body != nil {
		e.Body = *m.Body
	}
	if m.AttachmentURL != nil {
		e.AttachmentURL = *m.AttachmentURL
	}
	if m.DedupeKey != nil {
		e.DedupeKey = *m.DedupeKey
	}
	return e
}
