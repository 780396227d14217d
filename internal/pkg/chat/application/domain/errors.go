package chat

import "errors"

// Domain-level errors for realtime chat behaviors
var (
	ErrNotParticipant = errors.New("chat: user is not a participant in the conversation")
	ErrNotMember      = errors.New("chat: connection has not joined the conversation")
	ErrEmptyMessage   = errors.New("chat: empty message (no body or attachment)")
	ErrMalformedEvent = errors.New("chat: malformed event")
	ErrUnknownEvent   = errors.New("chat: unknown event type")
)
