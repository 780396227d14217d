package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	authport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/auth/port"
	qport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/queue/port"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/realtime"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/usecase"
	repository "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/persistence/repository/port"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/presentation/controller"
)

// Dependencies are the collaborators the chat endpoints are built from.
// Queue may be nil when no Redis is configured. PersistQueue names the asynq
// queue message_created tasks go to; this node's worker must not consume it.
type Dependencies struct {
	Auth          authport.Authenticator
	Router        *realtime.Router
	Fanout        *realtime.Fanout
	Conversations repository.ConversationRepository
	Queue         qport.Client
	PersistQueue  string
	Socket        controller.SocketOptions
	Logger        *slog.Logger
}

// RegisterRoutes registers chat-related HTTP endpoints under the given router group
// It constructs per-endpoint controllers and binds them directly to routes.
func RegisterRoutes(g *gin.RouterGroup, deps Dependencies) {
	joinUC := usecase.NewJoinConversationUseCase(deps.Conversations)
	socketCtl := controller.NewChatSocketController(
		deps.Auth,
		deps.Router,
		deps.Fanout,
		usecase.NewSendMessageUseCase(deps.Queue, deps.PersistQueue),
		joinUC,
		deps.Socket,
		deps.Logger,
	)
	statsCtl := controller.NewStatsController(deps.Router, deps.Fanout.NodeID())
	orderCtl := controller.NewOrderRequestController(deps.Auth, deps.Queue, deps.Fanout)
	participantsCtl := controller.NewParticipantsController(
		deps.Auth,
		deps.Router,
		joinUC,
		usecase.NewListParticipantsUseCase(deps.Conversations),
	)

	// GET /api/v1/realtime/ws -> websocket endpoint for realtime chat
	g.GET("/realtime/ws", socketCtl.Handle())

	// GET /api/v1/realtime/stats -> live connection and room counts
	g.GET("/realtime/stats", statsCtl.Handle())

	// POST /api/v1/realtime/order-requests -> notify a dealer of a new order
	g.POST("/realtime/order-requests", orderCtl.Handle())

	// GET /api/v1/realtime/conversations/:conversation_id/participants -> members and node-local presence
	g.GET("/realtime/conversations/:conversation_id/participants", participantsCtl.Handle())
}
