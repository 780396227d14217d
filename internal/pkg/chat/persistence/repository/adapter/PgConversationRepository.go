package adapter

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	repository "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/persistence/repository/port"
)

type PgConversationRepository struct {
	pool *pgxpool.Pool
}

func NewPgConversationRepository(pool *pgxpool.Pool) *PgConversationRepository {
	return &PgConversationRepository{pool: pool}
}

var _ repository.ConversationRepository = (*PgConversationRepository)(nil)

func (r *PgConversationRepository) IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error) {
	if r == nil || r.pool == nil {
		return false, errors.New("PgConversationRepository: nil pool")
	}
	var ok bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chat.participant
			WHERE conversation_id::text = $1 AND user_id::text = $2
		)
	`, conversationID, userID).Scan(&ok)
	return ok, err
}

func (r *PgConversationRepository) ListParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("PgConversationRepository: nil pool")
	}
	rows, err := r.pool.Query(ctx, `
		SELECT user_id::text
		FROM chat.participant
		WHERE conversation_id::text = $1
		ORDER BY user_id
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ids, nil
}
