package realtime

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/observability"
)

// Router coordinates websocket sessions and logical rooms (conversations).
// It keeps one active Connection per user and resolves room membership for
// fan-out. Membership is runtime-only and rebuilt by explicit joins.
//
// All mutation happens under the write lock; fan-out enqueues under the read
// lock so a connection is never delivered to while it is being removed.
type Router struct {
	mu           sync.RWMutex
	sessions     map[string]*Connection            // connectionID -> connection
	userSessions map[string]string                 // userID -> connectionID
	rooms        map[string]map[string]*Connection // roomID -> connectionID -> connection
	sessionRooms map[string]map[string]struct{}    // connectionID -> set of roomIDs
	logger       *slog.Logger
}

// NewRouter constructs an initialized Router.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		sessions:     make(map[string]*Connection),
		userSessions: make(map[string]string),
		rooms:        make(map[string]map[string]*Connection),
		sessionRooms: make(map[string]map[string]struct{}),
		logger:       observability.OrDiscard(logger).With("component", "router"),
	}
}

// Attach registers and starts a connection. A previous connection of the same
// user is detached and closed after the swap.
func (r *Router) Attach(conn *Connection) {
	var previous *Connection

	r.mu.Lock()
	if existingID, ok := r.userSessions[conn.UserID]; ok {
		if existing := r.sessions[existingID]; existing != nil {
			previous = existing
			r.detachLocked(existingID)
		}
	}

	r.sessions[conn.ID] = conn
	r.userSessions[conn.UserID] = conn.ID
	r.sessionRooms[conn.ID] = make(map[string]struct{})
	r.mu.Unlock()

	conn.Start()

	if previous != nil {
		r.logger.Info("session replaced", "user_id", conn.UserID, "old_connection_id", previous.ID, "connection_id", conn.ID)
		previous.Close(CloseSessionReplaced, "session replaced")
	}
}

// Detach removes a connection and all of its room memberships if it is still tracked.
func (r *Router) Detach(conn *Connection) {
	r.mu.Lock()
	r.detachLocked(conn.ID)
	r.mu.Unlock()
}

// Join adds the connection to the room. It reports false when the connection
// is not attached. Joining twice is a no-op.
func (r *Router) Join(connectionID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.sessions[connectionID]
	if !ok || roomID == "" {
		return false
	}

	room := r.rooms[roomID]
	if room == nil {
		room = make(map[string]*Connection)
		r.rooms[roomID] = room
	}
	room[connectionID] = conn

	memberships := r.sessionRooms[connectionID]
	if memberships == nil {
		memberships = make(map[string]struct{})
		r.sessionRooms[connectionID] = memberships
	}
	memberships[roomID] = struct{}{}
	return true
}

// Leave removes the connection from the room. Leaving a room the connection
// is not in is a no-op.
func (r *Router) Leave(connectionID, roomID string) {
	r.mu.Lock()
	r.leaveLocked(roomID, connectionID)
	r.mu.Unlock()
}

// MembersOf returns the connection ids in the room. Unknown rooms yield an empty set.
func (r *Router) MembersOf(roomID string) map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make(map[string]struct{}, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		members[id] = struct{}{}
	}
	return members
}

// IsMember reports whether the connection has joined the room.
func (r *Router) IsMember(connectionID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][connectionID]
	return ok
}

// RoomsOf returns the rooms the connection has joined.
func (r *Router) RoomsOf(connectionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.sessionRooms[connectionID]))
	for roomID := range r.sessionRooms[connectionID] {
		out = append(out, roomID)
	}
	return out
}

// FanOutResult summarizes one fan-out. Every member is attempted regardless of
// individual failures.
type FanOutResult struct {
	Attempted int
	Delivered map[string]struct{} // user ids whose connection accepted the payload
	Failed    []string            // connection ids that rejected the payload
}

// Err returns a *FanOutError when at least one member could not be served.
func (res FanOutResult) Err() error {
	if len(res.Failed) == 0 {
		return nil
	}
	return &FanOutError{Attempted: res.Attempted, Failed: res.Failed}
}

// FanOutError reports a partially failed fan-out.
type FanOutError struct {
	Attempted int
	Failed    []string
}

func (e *FanOutError) Error() string {
	return fmt.Sprintf("realtime: fan-out failed for %d of %d connections", len(e.Failed), e.Attempted)
}

// Broadcast enqueues payload for every member of the room. excludeUserID,
// when non-empty, skips that user's connection.
func (r *Router) Broadcast(roomID string, payload []byte, excludeUserID string) FanOutResult {
	res := FanOutResult{Delivered: make(map[string]struct{})}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, conn := range r.rooms[roomID] {
		if excludeUserID != "" && conn.UserID == excludeUserID {
			continue
		}
		res.Attempted++
		if err := conn.Send(payload); err != nil {
			res.Failed = append(res.Failed, id)
			continue
		}
		res.Delivered[conn.UserID] = struct{}{}
	}

	if len(res.Failed) > 0 {
		r.logger.Warn("partial fan-out", "room_id", roomID, "error", res.Err())
	}
	return res
}

// NotifyUser delivers payload to the current connection of the given user.
func (r *Router) NotifyUser(userID string, payload []byte) bool {
	conn := r.userConnection(userID)
	if conn == nil {
		return false
	}
	return conn.Send(payload) == nil
}

// IsOnline reports whether the user has a live connection on this node.
func (r *Router) IsOnline(userID string) bool {
	return r.userConnection(userID) != nil
}

// DisconnectUser detaches and closes the user's connection, if any.
func (r *Router) DisconnectUser(userID string, code int, reason string) bool {
	r.mu.Lock()
	sessionID, ok := r.userSessions[userID]
	conn := r.sessions[sessionID]
	if ok {
		r.detachLocked(sessionID)
	}
	r.mu.Unlock()

	if conn == nil {
		return false
	}
	conn.Close(code, reason)
	return true
}

// Stats returns the number of live connections and non-empty rooms.
func (r *Router) Stats() (connections, rooms int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), len(r.rooms)
}

// Close terminates all tracked connections and clears router state.
func (r *Router) Close() {
	r.mu.Lock()
	sessions := make([]*Connection, 0, len(r.sessions))
	for _, conn := range r.sessions {
		sessions = append(sessions, conn)
	}
	r.sessions = make(map[string]*Connection)
	r.userSessions = make(map[string]string)
	r.rooms = make(map[string]map[string]*Connection)
	r.sessionRooms = make(map[string]map[string]struct{})
	r.mu.Unlock()

	for _, conn := range sessions {
		conn.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

func (r *Router) userConnection(userID string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessionID, ok := r.userSessions[userID]
	if !ok {
		return nil
	}
	return r.sessions[sessionID]
}

func (r *Router) detachLocked(sessionID string) {
	conn, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)

	if current, ok := r.userSessions[conn.UserID]; ok && current == sessionID {
		delete(r.userSessions, conn.UserID)
	}

	for roomID := range r.sessionRooms[sessionID] {
		r.leaveLocked(roomID, sessionID)
	}
	delete(r.sessionRooms, sessionID)
}

func (r *Router) leaveLocked(roomID string, sessionID string) {
	if sessionID == "" {
		return
	}
	room := r.rooms[roomID]
	if room == nil {
		return
	}
	delete(room, sessionID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
	if memberships, ok := r.sessionRooms[sessionID]; ok {
		delete(memberships, roomID)
	}
}
