package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authadapter "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/auth/adapter"
	authport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/auth/port"
	cacheadapter "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/cache/adapter"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/realtime"
	chat "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/domain"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/presentation/controller"
)

type directory map[string][]string

func (d directory) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	for _, id := range d[conversationID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (d directory) ListParticipantIDs(_ context.Context, conversationID string) ([]string, error) {
	return d[conversationID], nil
}

type testServer struct {
	*httptest.Server
	auth   *authadapter.JWTAuthenticator
	router *realtime.Router
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	auth := authadapter.NewJWTAuthenticator("test-secret", "", cacheadapter.NewMemoryCache())
	router := realtime.NewRouter(nil)
	fanout := realtime.NewFanout(router, nil, nil)

	engine := gin.New()
	RegisterRoutes(engine.Group("/api/v1"), Dependencies{
		Auth:          auth,
		Router:        router,
		Fanout:        fanout,
		Conversations: directory{"c1": {"buyer", "dealer"}, "c2": {"dealer"}},
		Socket:        controller.SocketOptions{SendBuffer: 32, RatePerSec: 100, RateBurst: 100},
	})

	srv := httptest.NewServer(engine)
	t.Cleanup(func() {
		router.Close()
		srv.Close()
	})
	return &testServer{Server: srv, auth: auth, router: router}
}

func (s *testServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := s.auth.Issue(authport.Identity{UserID: userID, Name: strings.ToUpper(userID)}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/api/v1/realtime/ws"
}

func (s *testServer) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	header := http.Header{"Authorization": {"Bearer " + s.token(t, userID)}}
	ws, _, err := websocket.DefaultDialer.Dial(s.wsURL(), header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	f := readFrame(t, ws)
	require.Equal(t, chat.EventConnected, f.Type)
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) chat.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var f chat.Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func send(t *testing.T, ws *websocket.Conn, typ chat.EventType, conversationID string, payload any) {
	t.Helper()
	raw, err := chat.EncodeFrame(typ, conversationID, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, raw))
}

func join(t *testing.T, ws *websocket.Conn, conversationID string) {
	t.Helper()
	send(t, ws, chat.ActionJoinConversation, conversationID, nil)
	f := readFrame(t, ws)
	require.Equal(t, chat.EventJoined, f.Type, "join %s: %s %s", conversationID, f.Code, f.Error)
}

func TestHandshake_RejectsMissingOrBadToken(t *testing.T) {
	s := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(s.wsURL(), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(s.wsURL()+"?token=garbage", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshake_AcceptsQueryToken(t *testing.T) {
	s := newTestServer(t)

	ws, _, err := websocket.DefaultDialer.Dial(s.wsURL()+"?token="+s.token(t, "buyer"), nil)
	require.NoError(t, err)
	defer ws.Close()

	f := readFrame(t, ws)
	require.Equal(t, chat.EventConnected, f.Type)
	var p chat.ConnectedPayload
	require.NoError(t, json.Unmarshal(f.Payload, &p))
	assert.Equal(t, "buyer", p.UserID)
	assert.NotEmpty(t, p.ConnectionID)
}

func TestSendMessage_ReachesRoomIncludingSender(t *testing.T) {
	s := newTestServer(t)
	buyer := s.dial(t, "buyer")
	dealer := s.dial(t, "dealer")
	join(t, buyer, "c1")
	join(t, dealer, "c1")

	send(t, buyer, chat.ActionSendMessage, "c1", chat.SendMessageRequest{Body: "Is the GT3 available?"})

	for _, ws := range []*websocket.Conn{buyer, dealer} {
		f := readFrame(t, ws)
		require.Equal(t, chat.EventNewMessage, f.Type)
		ev, err := chat.DecodeEvent(f)
		require.NoError(t, err)
		msg := ev.(chat.NewMessageEvent)
		assert.Equal(t, "buyer", msg.Sender.ID)
		assert.Equal(t, "BUYER", msg.Sender.Name)
		assert.Equal(t, "Is the GT3 available?", msg.Body)
		assert.NotEmpty(t, msg.ID)
	}
}

func TestSendMessage_SkipsParticipantOutsideRoom(t *testing.T) {
	s := newTestServer(t)
	buyer := s.dial(t, "buyer")
	dealer := s.dial(t, "dealer")
	join(t, buyer, "c1")

	send(t, buyer, chat.ActionSendMessage, "c1", chat.SendMessageRequest{Body: "hello"})
	require.Equal(t, chat.EventNewMessage, readFrame(t, buyer).Type)

	// The dealer is a participant of c1 but never joined, so its next frame
	// is the ack for its own request.
	send(t, dealer, chat.ActionLeaveConversation, "c1", nil)
	assert.Equal(t, chat.EventLeft, readFrame(t, dealer).Type)
}

func TestTypingAndReceipts_ExcludeOriginator(t *testing.T) {
	s := newTestServer(t)
	buyer := s.dial(t, "buyer")
	dealer := s.dial(t, "dealer")
	join(t, buyer, "c1")
	join(t, dealer, "c1")

	send(t, dealer, chat.ActionTypingStart, "c1", nil)
	f := readFrame(t, buyer)
	require.Equal(t, chat.EventUserTyping, f.Type)
	ev, err := chat.DecodeEvent(f)
	require.NoError(t, err)
	assert.Equal(t, "dealer", ev.(chat.TypingEvent).UserID)

	send(t, dealer, chat.ActionMarkRead, "c1", chat.ReceiptRequest{MessageID: "m1"})
	f = readFrame(t, buyer)
	require.Equal(t, chat.EventMessageRead, f.Type)
	ev, err = chat.DecodeEvent(f)
	require.NoError(t, err)
	assert.Equal(t, "dealer", ev.(chat.ReadEvent).ReaderID)

	// Frames are FIFO per connection: had the dealer received its own events,
	// they would arrive before this ack.
	send(t, dealer, chat.ActionLeaveConversation, "c1", nil)
	assert.Equal(t, chat.EventLeft, readFrame(t, dealer).Type)
}

func TestErrorFrames(t *testing.T) {
	s := newTestServer(t)
	buyer := s.dial(t, "buyer")

	tests := []struct {
		name string
		raw  string
		code string
	}{
		{name: "malformed json", raw: `{"type":`, code: controller.CodeBadRequest},
		{name: "unknown type", raw: `{"type":"teleport"}`, code: controller.CodeUnsupportedType},
		{name: "send before join", raw: `{"type":"send_message","conversation_id":"c1","payload":{"body":"hi"}}`, code: controller.CodeNotMember},
		{name: "join foreign conversation", raw: `{"type":"join_conversation","conversation_id":"c2"}`, code: controller.CodeForbidden},
		{name: "join without id", raw: `{"type":"join_conversation"}`, code: controller.CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, buyer.WriteMessage(websocket.TextMessage, []byte(tt.raw)))
			f := readFrame(t, buyer)
			assert.Equal(t, chat.EventError, f.Type)
			assert.Equal(t, tt.code, f.Code)
		})
	}
}

func TestEmptyMessageIsRejected(t *testing.T) {
	s := newTestServer(t)
	buyer := s.dial(t, "buyer")
	join(t, buyer, "c1")

	send(t, buyer, chat.ActionSendMessage, "c1", chat.SendMessageRequest{Body: "   "})
	f := readFrame(t, buyer)
	assert.Equal(t, chat.EventError, f.Type)
	assert.Equal(t, controller.CodeBadRequest, f.Code)
}

func TestSecondConnectionReplacesFirst(t *testing.T) {
	s := newTestServer(t)
	first := s.dial(t, "buyer")
	_ = s.dial(t, "buyer")

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, realtime.CloseSessionReplaced), "got %v", err)

	require.Eventually(t, func() bool {
		connections, _ := s.router.Stats()
		return connections == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStatsAndOrderRequest(t *testing.T) {
	s := newTestServer(t)
	dealer := s.dial(t, "dealer")
	join(t, dealer, "c1")

	resp, err := http.Get(s.URL + "/api/v1/realtime/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var stats map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, float64(1), stats["connections"])
	assert.Equal(t, float64(1), stats["rooms"])

	body := `{"dealer_id":"dealer","order_id":"o-77","vehicle_id":"v-911"}`
	req, err := http.NewRequest(http.MethodPost, s.URL+"/api/v1/realtime/order-requests", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.token(t, "buyer"))
	req.Header.Set("Content-Type", "application/json")
	orderResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer orderResp.Body.Close()
	assert.Equal(t, http.StatusAccepted, orderResp.StatusCode)

	f := readFrame(t, dealer)
	require.Equal(t, chat.EventNewOrderRequest, f.Type)
	ev, err := chat.DecodeEvent(f)
	require.NoError(t, err)
	order := ev.(chat.OrderRequestEvent)
	assert.Equal(t, "o-77", order.OrderID)
	assert.Equal(t, "buyer", order.Buyer.ID)
}

func TestOrderRequest_RequiresAuth(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Post(s.URL+"/api/v1/realtime/order-requests", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func (s *testServer) getJSON(t *testing.T, path, userID string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.URL+path, nil)
	require.NoError(t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestParticipants(t *testing.T) {
	s := newTestServer(t)
	_ = s.dial(t, "dealer")

	var body struct {
		ConversationID string `json:"conversation_id"`
		Participants   []struct {
			UserID string `json:"user_id"`
			Online bool   `json:"online"`
		} `json:"participants"`
	}
	require.Equal(t, http.StatusOK, s.getJSON(t, "/api/v1/realtime/conversations/c1/participants", "buyer", &body))
	assert.Equal(t, "c1", body.ConversationID)
	require.Len(t, body.Participants, 2)
	assert.Equal(t, "buyer", body.Participants[0].UserID)
	assert.False(t, body.Participants[0].Online)
	assert.Equal(t, "dealer", body.Participants[1].UserID)
	assert.True(t, body.Participants[1].Online)

	assert.Equal(t, http.StatusForbidden, s.getJSON(t, "/api/v1/realtime/conversations/c2/participants", "buyer", nil))
	assert.Equal(t, http.StatusUnauthorized, s.getJSON(t, "/api/v1/realtime/conversations/c1/participants", "", nil))
}
