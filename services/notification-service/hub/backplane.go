package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yashrajoria/resibuy-backend/services/notification-service/models"
)

const DefaultChannel = "resibuy:notifications:live"

type envelope struct {
	Group string           `json:"group"`
	Event models.LiveEvent `json:"event"`
}

// RedisBackplane carries live events between processes: the worker publishes,
// every notification-service instance relays into its local Hub.
type RedisBackplane struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisBackplane(client *redis.Client, channel string, logger *zap.Logger) *RedisBackplane {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBackplane{client: client, channel: channel, logger: logger}
}

func (b *RedisBackplane) PushToUser(ctx context.Context, userID string, evt models.LiveEvent) error {
	return b.publish(ctx, userID, evt)
}

func (b *RedisBackplane) PushToGroup(ctx context.Context, group string, evt models.LiveEvent) error {
	return b.publish(ctx, group, evt)
}

func (b *RedisBackplane) publish(ctx context.Context, group string, evt models.LiveEvent) error {
	data, err := json.Marshal(envelope{Group: group, Event: evt})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish live event: %w", err)
	}
	return nil
}

// Relay subscribes to the channel and delivers into h until ctx is done.
func (b *RedisBackplane) Relay(ctx context.Context, h *Hub) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("live backplane relay started", zap.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("live backplane relay stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("dropping malformed live event", zap.Error(err))
				continue
			}
			h.Deliver(env.Group, env.Event)
		}
	}
}
