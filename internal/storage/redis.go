package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/tip-ledger/internal/errors"
	"github.com/tip-ledger/internal/config"
)

// webhookEventKeyPrefix namespaces processed webhook event ids
const webhookEventKeyPrefix = "webhook:event:"

// RedisCache wraps the Redis client
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis connection
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client returns the underlying Redis client
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// MarkSeen records a webhook event id; it returns false when the id was already recorded within ttl
func (r *RedisCache) MarkSeen(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, webhookEventKeyPrefix+eventID, time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, apperrors.NewCacheError("record webhook event "+eventID, err)
	}
	return ok, nil
}

// Forget removes a recorded event id so a failed delivery can be processed again
func (r *RedisCache) Forget(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	if err := r.client.Del(ctx, webhookEventKeyPrefix+eventID).Err(); err != nil {
		return apperrors.NewCacheError("forget webhook event "+eventID, err)
	}
	return nil
}
