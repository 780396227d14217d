package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/relay/port"
)

// DefaultChannel is the pub/sub channel shared by every realtime node.
const DefaultChannel = "realtime:fanout"

// RedisRelay implements port.Relay with Redis pub/sub.
type RedisRelay struct {
	client  *redis.Client
	channel string
}

// NewRedisRelay reuses an existing client; Close does not close it.
func NewRedisRelay(client *redis.Client, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{client: client, channel: channel}
}

var _ port.Relay = (*RedisRelay)(nil)

func (r *RedisRelay) Publish(ctx context.Context, env port.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("relay: encode envelope: %w", err)
	}
	return r.client.Publish(ctx, r.channel, b).Err()
}

func (r *RedisRelay) Subscribe(ctx context.Context, h port.Handler) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription confirmation so publishes after return are seen.
	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("relay: subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay: subscription closed")
			}
			var env port.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			h(ctx, env)
		}
	}
}

func (r *RedisRelay) Close() error {
	return nil
}
