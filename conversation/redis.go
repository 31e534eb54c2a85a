package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sweetpotato0/shopchat/message"
)

// RedisStore implements Store on a Redis list per conversation.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string        // Redis server address (e.g., "localhost:6379")
	Password string        // Redis password (if any)
	DB       int           // Redis database number
	Prefix   string        // Key prefix for namespacing
	TTL      time.Duration // Time-to-live for conversation keys (0 means no expiration)
}

// NewRedisStore creates a new Redis-backed conversation store.
func NewRedisStore(config *RedisConfig) *RedisStore {
	if config == nil {
		config = &RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "shopchat:conv:",
			TTL:    0,
		}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &RedisStore{
		client: client,
		prefix: config.Prefix,
		ttl:    config.TTL,
	}
}

func (s *RedisStore) key(conversationID string) string {
	return s.prefix + conversationID
}

// Append pushes the serialized turn onto the conversation's list.
func (s *RedisStore) Append(ctx context.Context, conversationID string, turn *message.Turn) error {
	if turn == nil {
		return fmt.Errorf("turn cannot be nil")
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	key := s.key(conversationID)
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to append turn to Redis: %w", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("failed to refresh conversation TTL: %w", err)
		}
	}
	return nil
}

// Read returns the conversation's turns in insertion order.
func (s *RedisStore) Read(ctx context.Context, conversationID string) ([]*message.Turn, error) {
	// LRange on a missing key yields an empty slice, not redis.Nil.
	entries, err := s.client.LRange(ctx, s.key(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	turns := make([]*message.Turn, 0, len(entries))
	for _, entry := range entries {
		var turn message.Turn
		if err := json.Unmarshal([]byte(entry), &turn); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, &turn)
	}
	return turns, nil
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
