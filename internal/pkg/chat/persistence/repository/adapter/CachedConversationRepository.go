package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	cacheport "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/cache/port"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/observability"
	repository "github.com/abba-boss/luxury-cars-automobiles-sub002/internal/pkg/chat/persistence/repository/port"
)

const (
	participantKeyPrefix  = "chat:participant:"
	participantsKeyPrefix = "chat:participants:"
)

// CachedConversationRepository memoizes directory lookups in a Cache for ttl.
// Concurrent misses for the same key share one upstream call. Cache failures
// fall through to the upstream repository.
type CachedConversationRepository struct {
	next   repository.ConversationRepository
	cache  cacheport.Cache
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

func NewCachedConversationRepository(next repository.ConversationRepository, cache cacheport.Cache, ttl time.Duration, logger *slog.Logger) *CachedConversationRepository {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedConversationRepository{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: observability.OrDiscard(logger).With("component", "conversation_cache"),
	}
}

var _ repository.ConversationRepository = (*CachedConversationRepository)(nil)

func (r *CachedConversationRepository) IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error) {
	key := participantKeyPrefix + conversationID + ":" + userID

	if v, ok := r.lookup(ctx, key); ok {
		return v == "1", nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		ok, err := r.next.IsParticipant(ctx, conversationID, userID)
		if err != nil {
			return false, err
		}
		value := "0"
		if ok {
			value = "1"
		}
		r.store(ctx, key, value)
		return ok, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (r *CachedConversationRepository) ListParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	key := participantsKeyPrefix + conversationID

	if v, ok := r.lookup(ctx, key); ok {
		var ids []string
		if err := json.Unmarshal([]byte(v), &ids); err == nil {
			return ids, nil
		}
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		ids, err := r.next.ListParticipantIDs(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(ids); err == nil {
			r.store(ctx, key, string(raw))
		}
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Invalidate drops cached entries of a conversation's participant list and
// of the given users' membership checks.
func (r *CachedConversationRepository) Invalidate(ctx context.Context, conversationID string, userIDs ...string) error {
	keys := []string{participantsKeyPrefix + conversationID}
	for _, id := range userIDs {
		keys = append(keys, participantKeyPrefix+conversationID+":"+id)
	}
	_, err := r.cache.Del(ctx, keys...)
	return err
}

func (r *CachedConversationRepository) lookup(ctx context.Context, key string) (string, bool) {
	v, err := r.cache.Get(ctx, key)
	if err == nil {
		return v, true
	}
	if !errors.Is(err, cacheport.ErrMiss) {
		r.logger.Warn("cache get failed", "key", key, "error", err)
	}
	return "", false
}

func (r *CachedConversationRepository) store(ctx context.Context, key, value string) {
	if err := r.cache.Set(ctx, key, value, r.ttl); err != nil {
		r.logger.Warn("cache set failed", "key", key, "error", err)
	}
}
