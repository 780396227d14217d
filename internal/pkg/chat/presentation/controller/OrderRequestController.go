package controller

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	authport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/auth/port"
	queueport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/queue/port"
	chat "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/domain"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/task"
)

// OrderRequestController lets a buyer's client announce a freshly placed
// order to the dealer. Delivery goes through the realtime queue when one is
// configured, otherwise straight to the notifier.
type OrderRequestController struct {
	auth     authport.Authenticator
	Q        queueport.Client
	notifier task.UserNotifier
	now      func() time.Time
}

func NewOrderRequestController(auth authport.Authenticator, client queueport.Client, notifier task.UserNotifier) *OrderRequestController {
	return &OrderRequestController{auth: auth, Q: client, notifier: notifier, now: time.Now}
}

// orderRequest is the DTO for the HTTP request body
type orderRequest struct {
	DealerID       string `json:"dealer_id" binding:"required"`
	OrderID        string `json:"order_id" binding:"required"`
	VehicleID      string `json:"vehicle_id" binding:"required"`
	ConversationID string `json:"conversation_id"`
	Note           string `json:"note"`
}

// Handle returns a gin handler that accepts an order-request notification
func (h *OrderRequestController) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := h.auth.Authenticate(c.Request.Context(), bearerToken(c))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		var req orderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		payload := task.OrderRequestTaskPayload{
			TargetUserID: req.DealerID,
			Order: chat.OrderRequestEvent{
				OrderID:        req.OrderID,
				ConversationID: req.ConversationID,
				VehicleID:      req.VehicleID,
				Buyer:          chat.Party{ID: identity.UserID, Name: identity.Name},
				Note:           req.Note,
				CreatedAt:      h.now().UTC(),
			},
		}

		t, err := task.NewOrderRequestTask(payload)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		if h.Q == nil {
			if err := task.HandleOrderRequest(h.notifier, nil)(ctx, t); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"status": "delivered"})
			return
		}

		id, err := h.Q.Enqueue(ctx, t, queueport.EnqueueOption{Queue: "realtime", MaxRetry: 3})
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, context.DeadlineExceeded) {
				status = http.StatusGatewayTimeout
			}
			c.JSON(status, gin.H{"error": "failed to enqueue order request"})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "task_id": id})
	}
}
