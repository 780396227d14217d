package realtime

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Close codes sent to clients in addition to the standard websocket ones.
const (
	CloseSessionReplaced = 4001
	CloseSendOverflow    = 4002
	CloseSessionRevoked  = 4003
)

var (
	ErrConnectionClosed = errors.New("realtime: connection closed")
	ErrBufferExceeded   = errors.New("realtime: connection buffer exceeded")
)

// Status is the lifecycle state of a Connection.
type Status int32

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnected
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

// transport is the subset of *websocket.Conn the write side needs.
type transport interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Connection wraps one authenticated websocket and serializes outbound writes
// through a bounded queue. It is safe for concurrent use.
type Connection struct {
	ID     string
	UserID string

	ws     transport
	send   chan []byte
	status atomic.Int32
	once   sync.Once
	closed chan struct{}
}

// NewConnection constructs a Connection for the given user. buffer bounds the
// outbound queue.
func NewConnection(userID string, ws *websocket.Conn, buffer int) *Connection {
	return newConnection(userID, ws, buffer)
}

func newConnection(userID string, ws transport, buffer int) *Connection {
	if buffer <= 0 {
		buffer = 128
	}
	return &Connection{
		ID:     uuid.NewString(),
		UserID: userID,
		ws:     ws,
		send:   make(chan []byte, buffer),
		closed: make(chan struct{}),
	}
}

// Status reports the connection's lifecycle state.
func (c *Connection) Status() Status {
	return Status(c.status.Load())
}

// Start launches the write loop. It must be called exactly once per connection.
func (c *Connection) Start() {
	if !c.status.CompareAndSwap(int32(StatusConnecting), int32(StatusConnected)) {
		return
	}
	go c.writeLoop()
}

// Send enqueues payload for delivery without blocking. A full queue closes the
// connection to keep backpressure bounded.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}
	select {
	case <-c.closed:
		return ErrConnectionClosed
	case c.send <- payload:
		return nil
	default:
		// Closing writes a control frame; never do that on the caller's goroutine.
		go c.Close(CloseSendOverflow, "send buffer full")
		return ErrBufferExceeded
	}
}

// Close terminates the connection. Queued payloads that were not yet written
// are discarded. Safe to call more than once.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		c.status.Store(int32(StatusDisconnected))
		close(c.closed)
		if c.ws == nil {
			return
		}
		deadline := time.Now().Add(writeWait)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case msg := <-c.send:
			// Prefer the close signal over draining the rest of the queue.
			select {
			case <-c.closed:
				return
			default:
			}
			if err := c.writeMessage(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.writeMessage(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (c *Connection) writeMessage(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}
