package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	authport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/auth/port"
	qport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/queue/port"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/observability"
)

// SessionRevokedTaskType is enqueued on logout or password change.
const SessionRevokedTaskType = "realtime:session_revoked"

type SessionRevokedTaskPayload struct {
	UserID    string    `json:"userId"`
	TokenID   string    `json:"tokenId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// UserDisconnecter closes a user's live connection on every node.
type UserDisconnecter interface {
	DisconnectUser(ctx context.Context, userID string, reason string) bool
}

func NewSessionRevokedTask(p SessionRevokedTaskPayload) (qport.Task, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return qport.Task{}, err
	}
	return qport.Task{Type: SessionRevokedTaskType, Payload: raw}, nil
}

func RegisterSessionRevokedTask(srv qport.Server, revoker authport.Revoker, disconnecter UserDisconnecter, logger *slog.Logger) {
	srv.Register(SessionRevokedTaskType, HandleSessionRevoked(revoker, disconnecter, logger))
}

// HandleSessionRevoked denylists the token until it expires, then closes the
// user's connection so no stale authenticated channel survives. A denylist
// failure is retried; the disconnect is idempotent.
func HandleSessionRevoked(revoker authport.Revoker, disconnecter UserDisconnecter, logger *slog.Logger) qport.Handler {
	logger = observability.OrDiscard(logger).With("task", SessionRevokedTaskType)

	return func(ctx context.Context, t qport.Task) error {
		var p SessionRevokedTaskPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return fmt.Errorf("%w: %v", qport.ErrSkipRetry, err)
		}
		if p.UserID == "" {
			return fmt.Errorf("%w: userId is required", qport.ErrSkipRetry)
		}

		if p.TokenID != "" {
			if err := revoker.Revoke(ctx, p.TokenID, p.ExpiresAt); err != nil {
				return fmt.Errorf("revoke token: %w", err)
			}
		}

		reason := p.Reason
		if reason == "" {
			reason = "session revoked"
		}
		closed := disconnecter.DisconnectUser(ctx, p.UserID, reason)
		logger.Info("session revoked", "user_id", p.UserID, "token_id", p.TokenID, "closed_local", closed)
		return nil
	}
}
