package controller

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	authport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/auth/port"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/realtime"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/observability"
	chat "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/domain"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/usecase"
)

// Error frame codes.
const (
	CodeBadRequest      = "bad_request"
	CodeUnsupportedType = "unsupported_type"
	CodeForbidden       = "forbidden"
	CodeNotMember       = "not_member"
	CodeRateLimited     = "rate_limited"
	CodeSessionClosed   = "session_closed"
	CodeInternalError   = "internal_error"
)

const (
	defaultReadTimeout = 60 * time.Second
	maxFrameBytes      = 1 << 20
)

// SocketOptions tunes per-connection limits.
type SocketOptions struct {
	SendBuffer     int
	RatePerSec     float64
	RateBurst      int
	AllowedOrigins []string
}

// ChatSocketController handles the websocket endpoint for realtime chat traffic.
type ChatSocketController struct {
	auth            authport.Authenticator
	router          *realtime.Router
	fanout          *realtime.Fanout
	sendMessageUC   *usecase.SendMessageUseCase
	joinRoomUC      *usecase.JoinConversationUseCase
	upgrader        websocket.Upgrader
	opts            SocketOptions
	inflightTimeout time.Duration
	now             func() time.Time
	logger          *slog.Logger
}

func NewChatSocketController(
	auth authport.Authenticator,
	router *realtime.Router,
	fanout *realtime.Fanout,
	sendMessageUC *usecase.SendMessageUseCase,
	joinRoomUC *usecase.JoinConversationUseCase,
	opts SocketOptions,
	logger *slog.Logger,
) *ChatSocketController {
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	return &ChatSocketController{
		auth:          auth,
		router:        router,
		fanout:        fanout,
		sendMessageUC: sendMessageUC,
		joinRoomUC:    joinRoomUC,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		opts:            opts,
		inflightTimeout: 5 * time.Second,
		now:             time.Now,
		logger:          observability.OrDiscard(logger).With("component", "chat_socket"),
	}
}

// originChecker allows any origin when the list is empty.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// session is the per-connection state of one read loop.
type session struct {
	identity authport.Identity
	conn     *realtime.Connection
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// Handle authenticates the handshake, upgrades to websocket and processes
// frames until the client disconnects.
func (ctl *ChatSocketController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := ctl.auth.Authenticate(c.Request.Context(), bearerToken(c))
		if err != nil {
			ctl.logger.Debug("handshake rejected", "error", err, "remote", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the response.
			ctl.logger.Debug("upgrade failed", "error", err)
			return
		}

		conn := realtime.NewConnection(identity.UserID, ws, ctl.opts.SendBuffer)
		ctl.fanout.Attach(c.Request.Context(), conn)
		defer func() {
			ctl.fanout.Detach(conn)
			conn.Close(websocket.CloseNormalClosure, "session closed")
		}()

		s := &session{
			identity: identity,
			conn:     conn,
			limiter:  rate.NewLimiter(rate.Limit(ctl.opts.RatePerSec), ctl.opts.RateBurst),
			logger:   ctl.logger.With("user_id", identity.UserID, "connection_id", conn.ID),
		}
		s.logger.Info("connected")
		defer s.logger.Info("disconnected")

		ws.SetReadLimit(maxFrameBytes)
		_ = ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(defaultReadTimeout))
		})

		ctl.reply(s, chat.EventConnected, "", chat.ConnectedPayload{UserID: identity.UserID, ConnectionID: conn.ID})

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
					!errors.Is(err, websocket.ErrCloseSent) {
					s.logger.Debug("read failed", "error", err)
				}
				return
			}

			if !s.limiter.Allow() {
				ctl.replyError(s, CodeRateLimited, "too many frames")
				continue
			}

			var frame chat.Frame
			if err := json.Unmarshal(data, &frame); err != nil {
				ctl.replyError(s, CodeBadRequest, "invalid payload")
				continue
			}

			ctl.dispatch(c.Request.Context(), s, frame)
		}
	}
}

func (ctl *ChatSocketController) dispatch(ctx context.Context, s *session, frame chat.Frame) {
	switch frame.Type {
	case chat.ActionJoinConversation:
		ctl.handleJoin(ctx, s, frame)
	case chat.ActionLeaveConversation:
		ctl.handleLeave(s, frame)
	case chat.ActionSendMessage:
		ctl.handleSendMessage(ctx, s, frame)
	case chat.ActionTypingStart, chat.ActionTypingStop:
		ctl.handleTyping(ctx, s, frame)
	case chat.EventMessageDelivered, chat.ActionMarkRead:
		ctl.handleReceipt(ctx, s, frame)
	default:
		ctl.replyError(s, CodeUnsupportedType, "unknown frame type")
	}
}

func (ctl *ChatSocketController) handleJoin(ctx context.Context, s *session, frame chat.Frame) {
	if frame.ConversationID == "" {
		ctl.replyError(s, CodeBadRequest, "conversation_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, ctl.inflightTimeout)
	defer cancel()

	err := ctl.joinRoomUC.Execute(ctx, usecase.JoinConversationInput{
		ConversationID: frame.ConversationID,
		UserID:         s.identity.UserID,
	})
	if err != nil {
		ctl.handleUseCaseError(s, err)
		return
	}

	if !ctl.router.Join(s.conn.ID, frame.ConversationID) {
		// Replaced or revoked while the check ran.
		ctl.replyError(s, CodeSessionClosed, "connection is no longer attached")
		return
	}
	ctl.reply(s, chat.EventJoined, frame.ConversationID, nil)
}

func (ctl *ChatSocketController) handleLeave(s *session, frame chat.Frame) {
	if frame.ConversationID == "" {
		ctl.replyError(s, CodeBadRequest, "conversation_id is required")
		return
	}
	ctl.router.Leave(s.conn.ID, frame.ConversationID)
	ctl.reply(s, chat.EventLeft, frame.ConversationID, nil)
}

func (ctl *ChatSocketController) handleSendMessage(ctx context.Context, s *session, frame chat.Frame) {
	if !ctl.requireMember(s, frame) {
		return
	}

	var req chat.SendMessageRequest
	if err := decodePayload(frame.Payload, &req); err != nil {
		ctl.replyError(s, CodeBadRequest, "invalid send_message payload")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, ctl.inflightTimeout)
	defer cancel()

	msg, err := ctl.sendMessageUC.Execute(ctx, usecase.SendMessageInput{
		ConversationID: frame.ConversationID,
		Sender:         chat.Party{ID: s.identity.UserID, Name: s.identity.Name},
		Body:           optional(req.Body),
		MsgType:        req.MsgType,
		AttachmentURL:  optional(req.AttachmentURL),
		DedupeKey:      optional(req.DedupeKey),
	})
	if err != nil {
		ctl.handleUseCaseError(s, err)
		return
	}

	payload, err := chat.EncodeEvent(msg.Event())
	if err != nil {
		ctl.replyError(s, CodeInternalError, "failed to encode message")
		return
	}

	res := ctl.fanout.ToRoom(ctx, frame.ConversationID, payload, "")
	s.logger.Debug("message fanned out",
		"conversation_id", frame.ConversationID,
		"message_id", msg.ID,
		"attempted", res.Attempted,
		"delivered", len(res.Delivered),
	)
}

func (ctl *ChatSocketController) handleTyping(ctx context.Context, s *session, frame chat.Frame) {
	if !ctl.requireMember(s, frame) {
		return
	}

	typing := chat.Typing{ConversationID: frame.ConversationID, UserID: s.identity.UserID}
	var event chat.Event = chat.TypingEvent{Typing: typing}
	if frame.Type == chat.ActionTypingStop {
		event = chat.StoppedTypingEvent{Typing: typing}
	}
	ctl.broadcast(ctx, s, event)
}

func (ctl *ChatSocketController) handleReceipt(ctx context.Context, s *session, frame chat.Frame) {
	if !ctl.requireMember(s, frame) {
		return
	}

	var req chat.ReceiptRequest
	if err := decodePayload(frame.Payload, &req); err != nil || req.MessageID == "" {
		ctl.replyError(s, CodeBadRequest, "message_id is required")
		return
	}

	receipt := chat.Receipt{
		MessageID:      req.MessageID,
		ConversationID: frame.ConversationID,
		ReaderID:       s.identity.UserID,
		At:             ctl.now().UTC(),
	}
	var event chat.Event = chat.DeliveredEvent{Receipt: receipt}
	if frame.Type == chat.ActionMarkRead {
		event = chat.ReadEvent{Receipt: receipt}
	}
	ctl.broadcast(ctx, s, event)
}

// broadcast fans event out to the room, excluding the originating user.
func (ctl *ChatSocketController) broadcast(ctx context.Context, s *session, event chat.Event) {
	payload, err := chat.EncodeEvent(event)
	if err != nil {
		ctl.replyError(s, CodeInternalError, "failed to encode event")
		return
	}
	ctl.fanout.ToRoom(ctx, event.Conversation(), payload, s.identity.UserID)
}

func (ctl *ChatSocketController) requireMember(s *session, frame chat.Frame) bool {
	if frame.ConversationID == "" {
		ctl.replyError(s, CodeBadRequest, "conversation_id is required")
		return false
	}
	if !ctl.router.IsMember(s.conn.ID, frame.ConversationID) {
		ctl.handleUseCaseError(s, chat.ErrNotMember)
		return false
	}
	return true
}

func (ctl *ChatSocketController) handleUseCaseError(s *session, err error) {
	switch {
	case errors.Is(err, usecase.ErrPersistence), errors.Is(err, usecase.ErrEnqueue):
		s.logger.Error("use case failed", "error", err)
		ctl.replyError(s, CodeInternalError, "unexpected server error")
	case errors.Is(err, chat.ErrNotParticipant):
		ctl.replyError(s, CodeForbidden, "user is not a participant in this conversation")
	case errors.Is(err, chat.ErrNotMember):
		ctl.replyError(s, CodeNotMember, "join the conversation first")
	default:
		ctl.replyError(s, CodeBadRequest, err.Error())
	}
}

func (ctl *ChatSocketController) reply(s *session, t chat.EventType, conversationID string, payload any) {
	raw, err := chat.EncodeFrame(t, conversationID, payload)
	if err != nil {
		s.logger.Error("encode frame", "type", t, "error", err)
		return
	}
	_ = s.conn.Send(raw)
}

func (ctl *ChatSocketController) replyError(s *session, code string, message string) {
	if raw, err := chat.EncodeError(code, message); err == nil {
		_ = s.conn.Send(raw)
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return chat.ErrMalformedEvent
	}
	return json.Unmarshal(raw, v)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
