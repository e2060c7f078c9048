package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tullo/bazaar/internal/cache"
	"github.com/tullo/bazaar/pkg/logger"
	"github.com/tullo/bazaar/pkg/metrics"
	"go.uber.org/zap"
)

// RedisBroker fans out across processes over Redis pub/sub, one channel per conversation.
type RedisBroker struct {
	redis  *cache.RedisClient
	logger *logger.Logger
}

func NewRedisBroker(redis *cache.RedisClient, log *logger.Logger) *RedisBroker {
	return &RedisBroker{redis: redis, logger: log}
}

func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.redis.PublishConversation(ctx, ev.ConversationID, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, conversationID uuid.UUID) (*Subscription, error) {
	return b.pump(ctx, b.redis.SubscribeConversation(ctx, conversationID))
}

func (b *RedisBroker) SubscribeAll(ctx context.Context) (*Subscription, error) {
	return b.pump(ctx, b.redis.SubscribeAllConversations(ctx))
}

// pump waits for the subscription to be confirmed, then decodes messages onto a buffered
// channel until the pubsub is closed.
func (b *RedisBroker) pump(ctx context.Context, ps *redis.PubSub) (*Subscription, error) {
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Event, subscriptionBuffer)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("dropping undecodable event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			select {
			case out <- ev:
			default:
				metrics.RealtimePublishFailuresTotal.WithLabelValues("redis_dropped").Inc()
			}
		}
	}()

	return newSubscription(out, func() { ps.Close() }), nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (b *RedisBroker) Close() error { return nil }
