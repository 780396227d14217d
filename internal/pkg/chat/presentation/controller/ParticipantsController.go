package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	authport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/auth/port"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/realtime"
	chat "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/domain"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/usecase"
)

// ParticipantsController lists a conversation's participants for one of its
// members, flagging who holds a live connection on this node.
type ParticipantsController struct {
	auth   authport.Authenticator
	router *realtime.Router
	joinUC *usecase.JoinConversationUseCase
	listUC *usecase.ListParticipantsUseCase
}

func NewParticipantsController(
	auth authport.Authenticator,
	router *realtime.Router,
	joinUC *usecase.JoinConversationUseCase,
	listUC *usecase.ListParticipantsUseCase,
) *ParticipantsController {
	return &ParticipantsController{auth: auth, router: router, joinUC: joinUC, listUC: listUC}
}

type participantView struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

func (h *ParticipantsController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := h.auth.Authenticate(c.Request.Context(), bearerToken(c))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		conversationID := c.Param("conversation_id")
		err = h.joinUC.Execute(c.Request.Context(), usecase.JoinConversationInput{
			ConversationID: conversationID,
			UserID:         identity.UserID,
		})
		if err != nil {
			writeUseCaseError(c, err)
			return
		}

		ids, err := h.listUC.Execute(c.Request.Context(), usecase.ListParticipantsInput{ConversationID: conversationID})
		if err != nil {
			writeUseCaseError(c, err)
			return
		}

		out := make([]participantView, 0, len(ids))
		for _, id := range ids {
			out = append(out, participantView{UserID: id, Online: h.router.IsOnline(id)})
		}
		c.JSON(http.StatusOK, gin.H{"conversation_id": conversationID, "participants": out})
	}
}

func writeUseCaseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, usecase.ErrPersistence):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unexpected server error"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
