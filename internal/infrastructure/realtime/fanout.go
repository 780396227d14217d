package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/relay/port"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/observability"
)

// Fanout delivers payloads to local connections through the Router and, when a
// relay is configured, to connections held by peer nodes.
type Fanout struct {
	router *Router
	relay  port.Relay
	nodeID string
	logger *slog.Logger

	mu sync.Mutex
	// pending maps a user to the local connection whose replace envelope has
	// not come back from the relay yet.
	pending map[string]string
}

// NewFanout wires a Router to an optional relay. A nil relay keeps delivery
// node-local.
func NewFanout(router *Router, relay port.Relay, logger *slog.Logger) *Fanout {
	return &Fanout{
		router:  router,
		relay:   relay,
		nodeID:  uuid.NewString(),
		pending: make(map[string]string),
		logger:  observability.OrDiscard(logger).With("component", "fanout"),
	}
}

// NodeID identifies this process on the relay.
func (f *Fanout) NodeID() string {
	return f.nodeID
}

// Attach registers conn locally and asks peer nodes to close any connection
// the same user holds there with CloseSessionReplaced.
func (f *Fanout) Attach(ctx context.Context, conn *Connection) {
	f.router.Attach(conn)
	if f.relay == nil {
		return
	}

	f.mu.Lock()
	f.pending[conn.UserID] = conn.ID
	f.mu.Unlock()

	ok := f.publish(ctx, port.Envelope{
		Kind:         port.KindReplace,
		UserIDs:      []string{conn.UserID},
		ConnectionID: conn.ID,
	})
	if !ok {
		f.settle(conn.UserID, conn.ID)
	}
}

// Detach removes conn from the local router.
func (f *Fanout) Detach(conn *Connection) {
	f.router.Detach(conn)
	f.settle(conn.UserID, conn.ID)
}

// ToRoom broadcasts payload to the room's members on every node, skipping
// excludeUserID. Only connections that joined roomID receive it.
func (f *Fanout) ToRoom(ctx context.Context, roomID string, payload []byte, excludeUserID string) FanOutResult {
	res := f.router.Broadcast(roomID, payload, excludeUserID)

	f.publish(ctx, port.Envelope{
		Kind:          port.KindDeliver,
		RoomID:        roomID,
		ExcludeUserID: excludeUserID,
		Payload:       payload,
	})
	return res
}

// ToUser delivers payload to a single user wherever they are connected.
func (f *Fanout) ToUser(ctx context.Context, userID string, payload []byte) bool {
	ok := f.router.NotifyUser(userID, payload)
	f.publish(ctx, port.Envelope{
		Kind:    port.KindDeliver,
		UserIDs: []string{userID},
		Payload: payload,
	})
	return ok
}

// DisconnectUser closes the user's connection on every node.
func (f *Fanout) DisconnectUser(ctx context.Context, userID string, reason string) bool {
	ok := f.router.DisconnectUser(userID, CloseSessionRevoked, reason)
	f.publish(ctx, port.Envelope{
		Kind:    port.KindDisconnect,
		UserIDs: []string{userID},
		Reason:  reason,
	})
	return ok
}

// Run consumes envelopes from peer nodes until ctx is canceled. Without a
// relay it only waits for ctx.
func (f *Fanout) Run(ctx context.Context) error {
	if f.relay == nil {
		<-ctx.Done()
		return nil
	}
	return f.relay.Subscribe(ctx, f.handle)
}

func (f *Fanout) handle(_ context.Context, env port.Envelope) {
	if env.Origin == f.nodeID {
		if env.Kind == port.KindReplace {
			for _, userID := range env.UserIDs {
				f.settle(userID, env.ConnectionID)
			}
		}
		return
	}

	switch env.Kind {
	case port.KindDeliver:
		f.deliverLocal(env)
	case port.KindDisconnect:
		for _, userID := range env.UserIDs {
			f.router.DisconnectUser(userID, CloseSessionRevoked, env.Reason)
		}
	case port.KindReplace:
		for _, userID := range env.UserIDs {
			// The relay orders envelopes: while our own replace is still in
			// flight, this one was published earlier and names an older session.
			if f.isPending(userID) {
				continue
			}
			f.router.DisconnectUser(userID, CloseSessionReplaced, "session replaced")
		}
	default:
		f.logger.Warn("unknown relay envelope", "kind", env.Kind, "origin", env.Origin)
	}
}

// deliverLocal applies a peer's deliver envelope. Room envelopes reach room
// members only; user envelopes carry no room.
func (f *Fanout) deliverLocal(env port.Envelope) {
	if env.RoomID != "" {
		f.router.Broadcast(env.RoomID, env.Payload, env.ExcludeUserID)
		return
	}
	for _, userID := range env.UserIDs {
		f.router.NotifyUser(userID, env.Payload)
	}
}

func (f *Fanout) settle(userID, connectionID string) {
	f.mu.Lock()
	if f.pending[userID] == connectionID {
		delete(f.pending, userID)
	}
	f.mu.Unlock()
}

func (f *Fanout) isPending(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.pending[userID]
	return ok
}

func (f *Fanout) publish(ctx context.Context, env port.Envelope) bool {
	if f.relay == nil {
		return false
	}
	env.Origin = f.nodeID
	if err := f.relay.Publish(ctx, env); err != nil {
		f.logger.Warn("relay publish failed", "kind", env.Kind, "room_id", env.RoomID, "error", err)
		return false
	}
	return true
}
