package prefcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/outpostmail/outpost/internal/api"
)

// Redis implements the Cache interface for Redis.
type Redis struct {
	config    Config
	client    *redis.Client
	connected bool
}

// Ensure Redis implements the Cache interface
var _ Cache = (*Redis)(nil)

// NewRedis creates a Redis cache.
func NewRedis(config Config) *Redis {
	if config.Port == 0 {
		config.Port = 6379
	}
	return &Redis{config: config}
}

// Connect establishes the connection to Redis.
func (r *Redis) Connect() error {
	if r.connected {
		return nil
	}

	r.client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", r.config.Host, r.config.Port),
		Password: r.config.Password,
		DB:       r.config.Database,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	r.connected = true
	return nil
}

// Close closes the connection to Redis.
func (r *Redis) Close() error {
	if !r.connected {
		return nil
	}
	r.connected = false
	return r.client.Close()
}

// IsConnected returns true if the cache is connected.
func (r *Redis) IsConnected() bool {
	return r.connected
}

// Type returns the backend type.
func (r *Redis) Type() string {
	return "redis"
}

// Get retrieves the cached key lookup for one address.
func (r *Redis) Get(ctx context.Context, user api.Identity, email string) (api.RecipientKeys, error) {
	if !r.connected {
		return api.RecipientKeys{}, ErrNotConnected
	}

	data, err := r.client.Get(ctx, cacheKey(user, email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return api.RecipientKeys{}, ErrNotFound
	}
	if err != nil {
		return api.RecipientKeys{}, fmt.Errorf("redis get failed: %w", err)
	}

	var keys api.RecipientKeys
	if err := json.Unmarshal(data, &keys); err != nil {
		return api.RecipientKeys{}, fmt.Errorf("failed to unmarshal cached entry: %w", err)
	}
	return keys, nil
}

// Set caches the key lookup for one address.
func (r *Redis) Set(ctx context.Context, user api.Identity, email string, keys api.RecipientKeys, ttl time.Duration) error {
	if !r.connected {
		return ErrNotConnected
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := r.client.Set(ctx, cacheKey(user, email), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete evicts one address.
func (r *Redis) Delete(ctx context.Context, user api.Identity, email string) error {
	if !r.connected {
		return ErrNotConnected
	}

	if err := r.client.Del(ctx, cacheKey(user, email)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
