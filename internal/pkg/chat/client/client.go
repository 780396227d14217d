// Package client is the Go client of the dealership realtime channel: a
// connection manager with room intent, an event multiplexer and the unread
// counter a UI binds to.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/observability"
	chat "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/domain"
)

// DefaultEndpoint is used when Options.Endpoint is empty.
const DefaultEndpoint = "ws://localhost:5000/api/v1/realtime/ws"

const (
	writeWait = 10 * time.Second

	// The server pings every 30s; two missed pings mean the peer is gone.
	defaultReadTimeout = 60 * time.Second

	// Close codes after which reconnecting would fight another session or a revocation.
	closeSessionReplaced = 4001
	closeSessionRevoked  = 4003
)

var (
	// ErrAuthentication is returned when the server rejects the credential.
	ErrAuthentication = errors.New("client: authentication rejected")
	// ErrNotConnected is returned by actions issued while disconnected.
	ErrNotConnected = errors.New("client: not connected")
	// ErrTransport wraps dial and write failures.
	ErrTransport = errors.New("client: transport error")
	// ErrSuperseded is returned by a Connect overtaken by a later Connect or Disconnect.
	ErrSuperseded = errors.New("client: connect superseded")
)

// Status is the connection state exposed to the UI.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Identity is the local user as resolved by the authentication subsystem.
type Identity struct {
	ID    string
	Name  string
	Role  string
	Email string
}

// Dialer opens the websocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Options configures a Client. ReconnectAttempts of zero disables reconnection.
// ReadTimeout bounds the silence tolerated on a live connection; every frame
// and server ping restarts it.
type Options struct {
	Endpoint          string
	Dialer            Dialer
	ReconnectAttempts int
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
	ReadTimeout       time.Duration
	Logger            *slog.Logger
}

// Client owns at most one live connection. Room intent and the unread count
// survive transport drops; every successful connect replays the rooms.
type Client struct {
	opts   Options
	mux    *Multiplexer
	unread *UnreadCounter
	logger *slog.Logger

	mu              sync.Mutex
	gen             uint64
	ws              *websocket.Conn
	status          Status
	identity        Identity
	credential      string
	connectionID    string
	rooms           map[string]struct{}
	cancelReconnect context.CancelFunc

	writeMu sync.Mutex

	listenersMu    sync.RWMutex
	listeners      []func(Status)
	errorListeners []func(code, message string)
}

func New(opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = 500 * time.Millisecond
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	logger := observability.OrDiscard(opts.Logger).With("component", "realtime_client")
	unread := &UnreadCounter{}
	return &Client{
		opts:   opts,
		mux:    NewMultiplexer(unread, logger),
		unread: unread,
		logger: logger,
		rooms:  make(map[string]struct{}),
	}
}

// Connect opens the connection for identity. Any previous connection is
// closed first. An empty credential closes and stays disconnected without
// dialing. Connecting as a different user drops the previous user's rooms,
// unread count and typing state.
func (c *Client) Connect(ctx context.Context, identity Identity, credential string) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	old := c.detachLocked()
	switched := c.identity.ID != "" && c.identity.ID != identity.ID
	if switched {
		c.rooms = make(map[string]struct{})
	}
	c.identity = identity
	c.credential = credential
	prev := c.status
	if credential == "" {
		c.status = StatusDisconnected
	} else {
		c.status = StatusConnecting
	}
	c.mu.Unlock()

	c.closeTransport(old, websocket.CloseNormalClosure, "superseded")
	c.mux.SetLocalUser(identity.ID)
	if switched {
		c.unread.Set(0)
		c.mux.resetTyping()
	}

	if credential == "" {
		if prev != StatusDisconnected {
			c.notify(StatusDisconnected)
		}
		return nil
	}
	c.notify(StatusConnecting)
	return c.dial(ctx, gen)
}

// Disconnect closes the connection and cancels any pending reconnect. It is a
// no-op when already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	ws := c.detachLocked()
	prev := c.status
	c.status = StatusDisconnected
	c.mu.Unlock()

	c.closeTransport(ws, websocket.CloseNormalClosure, "client disconnect")
	if prev != StatusDisconnected {
		c.notify(StatusDisconnected)
	}
}

// Rotate applies a credential change: it always disconnects, then connects
// again when credential is non-empty. Switching to another user drops the
// previous user's rooms and unread count.
func (c *Client) Rotate(ctx context.Context, identity Identity, credential string) error {
	c.Disconnect()

	c.mu.Lock()
	changed := c.identity.ID != identity.ID
	if changed {
		c.rooms = make(map[string]struct{})
	}
	c.identity = identity
	c.mu.Unlock()

	if changed {
		c.unread.Set(0)
		c.mux.resetTyping()
		c.mux.SetLocalUser(identity.ID)
	}
	if credential == "" {
		return nil
	}
	return c.Connect(ctx, identity, credential)
}

func (c *Client) dial(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	credential := c.credential
	c.mu.Unlock()

	header := http.Header{"Authorization": {"Bearer " + credential}}
	ws, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.Endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		authFailed := resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden)
		if c.markDisconnected(gen) {
			c.notify(StatusDisconnected)
		}
		if authFailed {
			return fmt.Errorf("%w: status %d", ErrAuthentication, resp.StatusCode)
		}
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		_ = ws.Close()
		return ErrSuperseded
	}
	c.ws = ws
	c.status = StatusConnected
	rooms := c.roomsLocked()
	c.mu.Unlock()

	c.logger.Info("connected", "endpoint", c.opts.Endpoint)
	c.notify(StatusConnected)
	go c.readLoop(ws, gen)

	for _, room := range rooms {
		if err := c.write(ws, chat.ActionJoinConversation, room, nil); err != nil {
			c.logger.Warn("rejoin failed", "conversation_id", room, "error", err)
		}
	}
	return nil
}

func (c *Client) readLoop(ws *websocket.Conn, gen uint64) {
	timeout := c.opts.ReadTimeout
	_ = ws.SetReadDeadline(time.Now().Add(timeout))
	ws.SetPingHandler(func(appData string) error {
		_ = ws.SetReadDeadline(time.Now().Add(timeout))
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		var ne net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &ne) && ne.Timeout()) {
			return nil
		}
		return err
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleDrop(ws, gen, err)
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(timeout))

		var f chat.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}

		switch f.Type {
		case chat.EventConnected:
			var p chat.ConnectedPayload
			if err := json.Unmarshal(f.Payload, &p); err == nil {
				c.mu.Lock()
				if c.gen == gen {
					c.connectionID = p.ConnectionID
				}
				c.mu.Unlock()
			}
		case chat.EventJoined, chat.EventLeft:
			c.logger.Debug("room ack", "type", f.Type, "conversation_id", f.ConversationID)
		case chat.EventError:
			c.logger.Warn("server error", "code", f.Code, "error", f.Error)
			c.notifyError(f.Code, f.Error)
		default:
			c.mux.Dispatch(f)
		}
	}
}

func (c *Client) handleDrop(ws *websocket.Conn, gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen || c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	c.connectionID = ""
	c.status = StatusDisconnected
	reconnect := c.opts.ReconnectAttempts > 0 &&
		!websocket.IsCloseError(cause, closeSessionReplaced, closeSessionRevoked)
	var ctx context.Context
	if reconnect {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(context.Background())
		c.cancelReconnect = cancel
	}
	c.mu.Unlock()

	_ = ws.Close()
	c.mux.resetTyping()
	c.logger.Info("disconnected", "error", cause)
	c.notify(StatusDisconnected)

	if reconnect {
		go c.reconnectLoop(ctx, gen)
	}
}

func (c *Client) reconnectLoop(ctx context.Context, gen uint64) {
	delay := c.opts.ReconnectMin
	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		c.mu.Lock()
		if c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.status = StatusConnecting
		c.mu.Unlock()
		c.notify(StatusConnecting)

		err := c.dial(ctx, gen)
		if err == nil {
			return
		}
		if errors.Is(err, ErrAuthentication) || errors.Is(err, ErrSuperseded) {
			return
		}
		c.logger.Warn("reconnect failed", "attempt", attempt, "error", err)

		delay *= 2
		if delay > c.opts.ReconnectMax {
			delay = c.opts.ReconnectMax
		}
	}
}

// JoinConversation records roomID as desired and asks the server to join it.
// While disconnected it returns ErrNotConnected; the room is joined on the
// next successful connect.
func (c *Client) JoinConversation(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("%w: conversation id is required", chat.ErrMalformedEvent)
	}
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		return ErrNotConnected
	}
	return c.write(ws, chat.ActionJoinConversation, roomID, nil)
}

// LeaveConversation forgets roomID and asks the server to leave it.
func (c *Client) LeaveConversation(roomID string) error {
	c.mu.Lock()
	delete(c.rooms, roomID)
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		return ErrNotConnected
	}
	return c.write(ws, chat.ActionLeaveConversation, roomID, nil)
}

// SendMessage posts a message to a joined conversation. Nothing is queued
// while disconnected.
func (c *Client) SendMessage(roomID string, req chat.SendMessageRequest) error {
	return c.action(chat.ActionSendMessage, roomID, req)
}

func (c *Client) StartTyping(roomID string) error {
	return c.action(chat.ActionTypingStart, roomID, nil)
}

func (c *Client) StopTyping(roomID string) error {
	return c.action(chat.ActionTypingStop, roomID, nil)
}

// AckDelivered confirms receipt of messageID to the other room members.
func (c *Client) AckDelivered(roomID, messageID string) error {
	return c.action(chat.EventMessageDelivered, roomID, chat.ReceiptRequest{MessageID: messageID})
}

func (c *Client) MarkRead(roomID, messageID string) error {
	return c.action(chat.ActionMarkRead, roomID, chat.ReceiptRequest{MessageID: messageID})
}

func (c *Client) action(t chat.EventType, roomID string, payload any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	return c.write(ws, t, roomID, payload)
}

func (c *Client) write(ws *websocket.Conn, t chat.EventType, roomID string, payload any) error {
	raw, err := chat.EncodeFrame(t, roomID, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// Subscribe registers h for one event tag. The returned func unsubscribes.
func (c *Client) Subscribe(t chat.EventType, h Handler) (func(), error) {
	return c.mux.Subscribe(t, h)
}

// OnStatusChange registers a lifecycle listener. Listeners run synchronously
// on the goroutine that caused the transition.
func (c *Client) OnStatusChange(fn func(Status)) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenersMu.Unlock()
}

// OnError registers a listener for error frames sent by the server.
func (c *Client) OnError(fn func(code, message string)) {
	c.listenersMu.Lock()
	c.errorListeners = append(c.errorListeners, fn)
	c.listenersMu.Unlock()
}

func (c *Client) UnreadCount() int64 { return c.unread.Get() }

// SetUnreadCount resets the counter, e.g. after the user opened the inbox.
func (c *Client) SetUnreadCount(v int64) { c.unread.Set(v) }

func (c *Client) IsConnected() bool { return c.Status() == StatusConnected }

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ConnectionID is the server-assigned id of the live connection, if any.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// Rooms returns the desired room set, sorted.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomsLocked()
}

// Typing reports whether userID is currently typing in roomID.
func (c *Client) Typing(roomID, userID string) bool {
	return c.mux.Typing(roomID, userID)
}

func (c *Client) roomsLocked() []string {
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// detachLocked forgets the live transport and stops a pending reconnect.
func (c *Client) detachLocked() *websocket.Conn {
	ws := c.ws
	c.ws = nil
	c.connectionID = ""
	if c.cancelReconnect != nil {
		c.cancelReconnect()
		c.cancelReconnect = nil
	}
	return ws
}

func (c *Client) markDisconnected(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.status == StatusDisconnected {
		return false
	}
	c.status = StatusDisconnected
	return true
}

func (c *Client) closeTransport(ws *websocket.Conn, code int, reason string) {
	if ws == nil {
		return
	}
	c.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	_ = ws.Close()
}

func (c *Client) notify(s Status) {
	c.listenersMu.RLock()
	listeners := append(([]func(Status))(nil), c.listeners...)
	c.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(s)
	}
}

func (c *Client) notifyError(code, message string) {
	c.listenersMu.RLock()
	listeners := append(([]func(string, string))(nil), c.errorListeners...)
	c.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(code, message)
	}
}
