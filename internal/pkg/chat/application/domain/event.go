package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags every frame on the realtime channel.
type EventType string

// Server -> client events.
const (
	EventNewMessage        EventType = "new_message"
	EventNewOrderRequest   EventType = "new_order_request"
	EventMessageDelivered  EventType = "message_delivered"
	EventMessageRead       EventType = "message_read"
	EventUserTyping        EventType = "user_typing"
	EventUserStoppedTyping EventType = "user_stopped_typing"
)

// Server -> client control frames.
const (
	EventConnected EventType = "connected"
	EventJoined    EventType = "joined"
	EventLeft      EventType = "left"
	EventError     EventType = "error"
)

// Client -> server actions. message_delivered doubles as the client ack.
const (
	ActionJoinConversation  EventType = "join_conversation"
	ActionLeaveConversation EventType = "leave_conversation"
	ActionSendMessage       EventType = "send_message"
	ActionTypingStart       EventType = "typing_start"
	ActionTypingStop        EventType = "typing_stop"
	ActionMarkRead          EventType = "mark_read"
)

// EventTypes lists the recognized server -> client events.
var EventTypes = []EventType{
	EventNewMessage,
	EventNewOrderRequest,
	EventMessageDelivered,
	EventMessageRead,
	EventUserTyping,
	EventUserStoppedTyping,
}

// Frame is the JSON envelope of every websocket text message.
type Frame struct {
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Code           string          `json:"code,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// Event is one decoded server -> client event.
type Event interface {
	Type() EventType
	Conversation() string
	Validate() error
}

// Party identifies the author of a message or order request.
type Party struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// NewMessageEvent carries a chat message to room members.
type NewMessageEvent struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	Sender         Party       `json:"sender"`
	Body           string      `json:"body,omitempty"`
	MsgType        MessageType `json:"msg_type"`
	AttachmentURL  string      `json:"attachment_url,omitempty"`
	DedupeKey      string      `json:"dedupe_key,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

func (NewMessageEvent) Type() EventType        { return EventNewMessage }
func (e NewMessageEvent) Conversation() string { return e.ConversationID }

func (e NewMessageEvent) Validate() error {
	if e.ID == "" || e.ConversationID == "" || e.Sender.ID == "" {
		return fmt.Errorf("%w: new_message requires id, conversation_id and sender.id", ErrMalformedEvent)
	}
	return nil
}

// OrderRequestEvent notifies a dealer that a buyer requested a vehicle order.
type OrderRequestEvent struct {
	OrderID        string    `json:"order_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	VehicleID      string    `json:"vehicle_id,omitempty"`
	Buyer          Party     `json:"buyer"`
	Note           string    `json:"note,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (OrderRequestEvent) Type() EventType        { return EventNewOrderRequest }
func (e OrderRequestEvent) Conversation() string { return e.ConversationID }

func (e OrderRequestEvent) Validate() error {
	if e.OrderID == "" {
		return fmt.Errorf("%w: new_order_request requires order_id", ErrMalformedEvent)
	}
	return nil
}

// Receipt is the body shared by delivery and read receipts.
type Receipt struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	ReaderID       string    `json:"reader_id"`
	At             time.Time `json:"at"`
}

func (r Receipt) Conversation() string { return r.ConversationID }

func (r Receipt) validate(t EventType) error {
	if r.MessageID == "" || r.ConversationID == "" || r.ReaderID == "" {
		return fmt.Errorf("%w: %s requires message_id, conversation_id and reader_id", ErrMalformedEvent, t)
	}
	return nil
}

type DeliveredEvent struct{ Receipt }

func (DeliveredEvent) Type() EventType  { return EventMessageDelivered }
func (e DeliveredEvent) Validate() error { return e.validate(EventMessageDelivered) }

type ReadEvent struct{ Receipt }

func (ReadEvent) Type() EventType  { return EventMessageRead }
func (e ReadEvent) Validate() error { return e.validate(EventMessageRead) }

// Typing is the body shared by typing start/stop signals.
type Typing struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

func (t Typing) Conversation() string { return t.ConversationID }

func (t Typing) validate(et EventType) error {
	if t.ConversationID == "" || t.UserID == "" {
		return fmt.Errorf("%w: %s requires conversation_id and user_id", ErrMalformedEvent, et)
	}
	return nil
}

type TypingEvent struct{ Typing }

func (TypingEvent) Type() EventType  { return EventUserTyping }
func (e TypingEvent) Validate() error { return e.validate(EventUserTyping) }

type StoppedTypingEvent struct{ Typing }

func (StoppedTypingEvent) Type() EventType  { return EventUserStoppedTyping }
func (e StoppedTypingEvent) Validate() error { return e.validate(EventUserStoppedTyping) }

// decoders maps each recognized tag to its payload decoder.
var decoders = map[EventType]func(json.RawMessage) (Event, error){
	EventNewMessage:        decodeAs[NewMessageEvent],
	EventNewOrderRequest:   decodeAs[OrderRequestEvent],
	EventMessageDelivered:  decodeAs[DeliveredEvent],
	EventMessageRead:       decodeAs[ReadEvent],
	EventUserTyping:        decodeAs[TypingEvent],
	EventUserStoppedTyping: decodeAs[StoppedTypingEvent],
}

func decodeAs[T Event](raw json.RawMessage) (Event, error) {
	var e T
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformedEvent)
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// IsEventType reports whether t is a recognized server -> client event.
func IsEventType(t EventType) bool {
	_, ok := decoders[t]
	return ok
}

// DecodeEvent turns a frame into its typed event. Unknown tags return
// ErrUnknownEvent; bad payloads return ErrMalformedEvent.
func DecodeEvent(f Frame) (Event, error) {
	decode, ok := decoders[f.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Type)
	}
	return decode(f.Payload)
}

// EncodeEvent serializes e as a complete frame.
func EncodeEvent(e Event) ([]byte, error) {
	return EncodeFrame(e.Type(), e.Conversation(), e)
}

// EncodeFrame serializes a frame with an arbitrary payload. A nil payload is omitted.
func EncodeFrame(t EventType, conversationID string, payload any) ([]byte, error) {
	f := Frame{Type: t, ConversationID: conversationID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		f.Payload = raw
	}
	return json.Marshal(f)
}

// EncodeError serializes an error frame.
func EncodeError(code, message string) ([]byte, error) {
	return json.Marshal(Frame{Type: EventError, Code: code, Error: message})
}

// SendMessageRequest is the payload of a send_message action.
type SendMessageRequest struct {
	Body          string      `json:"body,omitempty"`
	MsgType       MessageType `json:"msg_type,omitempty"`
	AttachmentURL string      `json:"attachment_url,omitempty"`
	DedupeKey     string      `json:"dedupe_key,omitempty"`
}

// ReceiptRequest is the payload of message_delivered and mark_read actions.
type ReceiptRequest struct {
	MessageID string `json:"message_id"`
}

// ConnectedPayload is sent once after the handshake.
type ConnectedPayload struct {
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}
