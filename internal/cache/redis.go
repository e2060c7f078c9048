package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tullo/bazaar/internal/models"
)

const (
	conversationChannelPrefix = "conversation:"
	typingTTL                 = 10 * time.Second
)

// ErrMiss is returned by GetJSON when the key is absent.
var ErrMiss = redis.Nil

type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisClientFrom(client), nil
}

// NewRedisClientFrom wraps an existing go-redis client.
func NewRedisClientFrom(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Presence Management

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:user:%s", userID.String())
}

// SetUserOnline sets a user as online
func (r *RedisClient) SetUserOnline(ctx context.Context, userID uuid.UUID) error {
	return r.setPresence(ctx, userID, "online", 5*time.Minute)
}

// SetUserOffline sets a user as offline
func (r *RedisClient) SetUserOffline(ctx context.Context, userID uuid.UUID) error {
	return r.setPresence(ctx, userID, "offline", 24*time.Hour)
}

func (r *RedisClient) setPresence(ctx context.Context, userID uuid.UUID, status string, ttl time.Duration) error {
	presence := models.UserPresence{
		UserID:   userID,
		Status:   status,
		LastSeen: time.Now(),
	}

	data, err := json.Marshal(presence)
	if err != nil {
		return err
	}

	return r.client.Set(ctx, presenceKey(userID), data, ttl).Err()
}

// GetUserPresence gets a user's presence
func (r *RedisClient) GetUserPresence(ctx context.Context, userID uuid.UUID) (*models.UserPresence, error) {
	data, err := r.client.Get(ctx, presenceKey(userID)).Result()
	if err == redis.Nil {
		return &models.UserPresence{
			UserID:   userID,
			Status:   "offline",
			LastSeen: time.Now(),
		}, nil
	}
	if err != nil {
		return nil, err
	}

	var presence models.UserPresence
	if err := json.Unmarshal([]byte(data), &presence); err != nil {
		return nil, err
	}

	return &presence, nil
}

// Typing Indicators

func typingKey(conversationID uuid.UUID) string {
	return fmt.Sprintf("typing:%s", conversationID.String())
}

// SetTyping sets a user as typing in a conversation. The set expires so a dropped
// connection cannot leave a stale indicator.
func (r *RedisClient) SetTyping(ctx context.Context, conversationID, userID uuid.UUID) error {
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, typingKey(conversationID), userID.String())
	pipe.Expire(ctx, typingKey(conversationID), typingTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// RemoveTyping removes a user from typing in a conversation
func (r *RedisClient) RemoveTyping(ctx context.Context, conversationID, userID uuid.UUID) error {
	return r.client.SRem(ctx, typingKey(conversationID), userID.String()).Err()
}

// GetTypingUsers gets all users typing in a conversation
func (r *RedisClient) GetTypingUsers(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	members, err := r.client.SMembers(ctx, typingKey(conversationID)).Result()
	if err != nil {
		return nil, err
	}

	userIDs := make([]uuid.UUID, 0, len(members))
	for _, member := range members {
		userID, err := uuid.Parse(member)
		if err != nil {
			continue
		}
		userIDs = append(userIDs, userID)
	}

	return userIDs, nil
}

// Per-conversation Pub/Sub

// ConversationChannel is the pub/sub channel carrying a conversation's events.
func ConversationChannel(conversationID uuid.UUID) string {
	return conversationChannelPrefix + conversationID.String()
}

// ConversationIDFromChannel parses a channel produced by ConversationChannel.
func ConversationIDFromChannel(channel string) (uuid.UUID, error) {
	if len(channel) <= len(conversationChannelPrefix) || channel[:len(conversationChannelPrefix)] != conversationChannelPrefix {
		return uuid.Nil, fmt.Errorf("not a conversation channel: %q", channel)
	}
	return uuid.Parse(channel[len(conversationChannelPrefix):])
}

// PublishConversation publishes payload on the conversation's channel.
func (r *RedisClient) PublishConversation(ctx context.Context, conversationID uuid.UUID, payload []byte) error {
	return r.client.Publish(ctx, ConversationChannel(conversationID), payload).Err()
}

// SubscribeConversation subscribes to one conversation.
func (r *RedisClient) SubscribeConversation(ctx context.Context, conversationID uuid.UUID) *redis.PubSub {
	return r.client.Subscribe(ctx, ConversationChannel(conversationID))
}

// SubscribeAllConversations pattern-subscribes to every conversation channel.
func (r *RedisClient) SubscribeAllConversations(ctx context.Context) *redis.PubSub {
	return r.client.PSubscribe(ctx, conversationChannelPrefix+"*")
}

// Read-through cache

// GetJSON decodes the value at key into dst. It returns ErrMiss when the key is absent.
func (r *RedisClient) GetJSON(ctx context.Context, key string, dst any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// SetJSON stores v at key for ttl.
func (r *RedisClient) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

// AllowAction implements a Redis-backed token-bucket limiter per key (user+action).
// Returns true if the action is allowed, false if rate-limited.
func (r *RedisClient) AllowAction(ctx context.Context, userID uuid.UUID, action string, rate int, burst int) (bool, error) {
	key := fmt.Sprintf("rl:%s:%s", action, userID.String())
	script := `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local vals = redis.call('HMGET', key, 'tokens', 'last')
local tokens = tonumber(vals[1])
local last = tonumber(vals[2])
if tokens == nil then tokens = burst end
if last == nil then last = now end
local delta = math.max(0, now - last)
local new_tokens = math.min(burst, tokens + (delta * rate / 1000))
local allowed = 0
if new_tokens >= 1 then
	new_tokens = new_tokens - 1
	allowed = 1
end
redis.call('HMSET', key, 'tokens', new_tokens, 'last', now)
redis.call('PEXPIRE', key, 60000)
return allowed
`

	now := time.Now().UnixMilli()
	res, err := r.client.Eval(ctx, script, []string{key}, rate, burst, now).Result()
	if err != nil {
		return false, err
	}
	switch v := res.(type) {
	case int64:
		return v == 1, nil
	default:
		return false, fmt.Errorf("unexpected result from rate limiter: %T %v", res, res)
	}
}
