package port

import (
	"context"
	"encoding/json"
)

// Kind selects what a receiving node does with an Envelope.
type Kind string

const (
	// KindDeliver fans Payload out to local room members and/or users.
	KindDeliver Kind = "deliver"
	// KindDisconnect closes the local connection of each user in UserIDs.
	KindDisconnect Kind = "disconnect"
	// KindReplace closes older connections of each user in UserIDs after the
	// user connected to the origin node.
	KindReplace Kind = "replace"
)

// Envelope is one cross-node fan-out instruction.
type Envelope struct {
	Kind          Kind            `json:"kind"`
	Origin        string          `json:"origin"`
	RoomID        string          `json:"room_id,omitempty"`
	ExcludeUserID string          `json:"exclude_user_id,omitempty"`
	UserIDs       []string        `json:"user_ids,omitempty"`
	ConnectionID  string          `json:"connection_id,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Handler consumes envelopes published by any node, including the local one.
type Handler func(ctx context.Context, env Envelope)

// Relay carries fan-out instructions between server nodes. Delivery is
// best-effort; subscribers must tolerate duplicates.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe blocks, invoking h for each envelope until ctx is canceled.
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}
