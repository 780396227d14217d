package client

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/observability"
	chat "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/domain"
)

// Handler receives one decoded event. Handlers run on the connection's reader
// goroutine and must not block or write to the transport.
type Handler func(chat.Event)

type subscription struct {
	id int
	h  Handler
}

type typingKey struct {
	room string
	user string
}

// Multiplexer routes inbound events to the subscriber list of their tag and
// applies the local side effects: unread bookkeeping and typing state.
type Multiplexer struct {
	mu          sync.RWMutex
	localUserID string
	nextID      int
	subscribers map[chat.EventType][]subscription
	typing      map[typingKey]bool
	unread      *UnreadCounter
	logger      *slog.Logger
}

func NewMultiplexer(unread *UnreadCounter, logger *slog.Logger) *Multiplexer {
	if unread == nil {
		unread = &UnreadCounter{}
	}
	return &Multiplexer{
		subscribers: make(map[chat.EventType][]subscription),
		typing:      make(map[typingKey]bool),
		unread:      unread,
		logger:      observability.OrDiscard(logger).With("component", "multiplexer"),
	}
}

// SetLocalUser sets the identity used to skip self-authored messages.
func (m *Multiplexer) SetLocalUser(userID string) {
	m.mu.Lock()
	m.localUserID = userID
	m.mu.Unlock()
}

// Subscribe adds h to the subscriber list of t. The returned func removes it.
func (m *Multiplexer) Subscribe(t chat.EventType, h Handler) (func(), error) {
	if !chat.IsEventType(t) {
		return nil, chat.ErrUnknownEvent
	}
	if h == nil {
		return nil, errors.New("client: nil handler")
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[t] = append(m.subscribers[t], subscription{id: id, h: h})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subscribers[t]
		for i, s := range subs {
			if s.id == id {
				m.subscribers[t] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}, nil
}

// Dispatch decodes f and delivers it. Unknown tags and malformed payloads are
// dropped; it reports whether the frame was delivered.
func (m *Multiplexer) Dispatch(f chat.Frame) bool {
	ev, err := chat.DecodeEvent(f)
	if err != nil {
		if errors.Is(err, chat.ErrUnknownEvent) {
			m.logger.Debug("dropping unknown event", "type", f.Type)
		} else {
			m.logger.Warn("dropping malformed event", "type", f.Type, "error", err)
		}
		return false
	}

	m.mu.Lock()
	switch e := ev.(type) {
	case chat.NewMessageEvent:
		if e.Sender.ID != m.localUserID {
			m.unread.increment()
		}
	case chat.OrderRequestEvent:
		m.unread.increment()
	case chat.TypingEvent:
		m.typing[typingKey{room: e.ConversationID, user: e.UserID}] = true
	case chat.StoppedTypingEvent:
		delete(m.typing, typingKey{room: e.ConversationID, user: e.UserID})
	}
	subs := append([]subscription(nil), m.subscribers[ev.Type()]...)
	m.mu.Unlock()

	for _, s := range subs {
		s.h(ev)
	}
	return true
}

// Typing reports the latest typing signal of userID in roomID.
func (m *Multiplexer) Typing(roomID, userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.typing[typingKey{room: roomID, user: userID}]
}

// TypingUsers lists users currently typing in roomID, sorted.
func (m *Multiplexer) TypingUsers(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k, on := range m.typing {
		if on && k.room == roomID {
			out = append(out, k.user)
		}
	}
	sort.Strings(out)
	return out
}

// resetTyping clears typing state, used when the transport drops.
func (m *Multiplexer) resetTyping() {
	m.mu.Lock()
	m.typing = make(map[typingKey]bool)
	m.mu.Unlock()
}
