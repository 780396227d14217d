package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	qport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/queue/port"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/observability"
	chat "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/application/domain"
)

// OrderRequestTaskType is enqueued by the order service when a buyer requests
// a vehicle. The dealer (TargetUserID) receives a new_order_request event.
const OrderRequestTaskType = "realtime:order_request"

type OrderRequestTaskPayload struct {
	TargetUserID string                 `json:"targetUserId"`
	Order        chat.OrderRequestEvent `json:"order"`
}

// UserNotifier delivers an encoded frame to one user's live connection.
type UserNotifier interface {
	ToUser(ctx context.Context, userID string, payload []byte) bool
}

// NewOrderRequestTask builds the queue task for producers and tests.
func NewOrderRequestTask(p OrderRequestTaskPayload) (qport.Task, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return qport.Task{}, err
	}
	return qport.Task{Type: OrderRequestTaskType, Payload: raw}, nil
}

// RegisterOrderRequestTask binds the task handler to the provided server.
func RegisterOrderRequestTask(srv qport.Server, notifier UserNotifier, logger *slog.Logger) {
	srv.Register(OrderRequestTaskType, HandleOrderRequest(notifier, logger))
}

// HandleOrderRequest pushes the order to the dealer. Events are ephemeral: an
// offline dealer is not an error and the task is not retried.
func HandleOrderRequest(notifier UserNotifier, logger *slog.Logger) qport.Handler {
	logger = observability.OrDiscard(logger).With("task", OrderRequestTaskType)

	return func(ctx context.Context, t qport.Task) error {
		var p OrderRequestTaskPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("%w: %v", qport.ErrSkipRetry, err)
		}
		if p.TargetUserID == "" {
			return fmt.Errorf("%w: targetUserId is required", qport.ErrSkipRetry)
		}
		if err := p.Order.Validate(); err != nil {
			return fmt.Errorf("%w: %v", qport.ErrSkipRetry, err)
		}

		frame, err := chat.EncodeEvent(p.Order)
		if err != nil {
			return fmt.Errorf("%w: %v", qport.ErrSkipRetry, err)
		}

		if !notifier.ToUser(ctx, p.TargetUserID, frame) {
			logger.Debug("order request target not connected locally", "user_id", p.TargetUserID, "order_id", p.Order.OrderID)
		}
		return nil
	}
}
