package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	sessionKeyPrefix     = "checkout:session:"
	idempotencyKeyPrefix = "checkout:idem:"
)

// Client wraps Redis for ephemeral checkout state: session records with a
// TTL of one checkout attempt, and idempotency-key reservations guarding
// against duplicate charge creation on client retries.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SaveSession stores a checkout session as JSON with the attempt TTL.
func (c *Client) SaveSession(ctx context.Context, sessionID string, session any, ttl time.Duration) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	return c.rdb.Set(ctx, sessionKeyPrefix+sessionID, data, ttl).Err()
}

// GetSession loads a checkout session into out. Returns false when the
// session does not exist or has expired.
func (c *Client) GetSession(ctx context.Context, sessionID string, out any) (bool, error) {
	data, err := c.rdb.Get(ctx, sessionKeyPrefix+sessionID).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return true, nil
}

// DeleteSession removes a checkout session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, sessionKeyPrefix+sessionID).Err()
}

// ReserveIdempotencyKey atomically claims an idempotency key for the given
// TTL. Returns false when the key is already claimed by an in-flight or
// completed request.
func (c *Client) ReserveIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, idempotencyKeyPrefix+key, "1", ttl).Result()
}

// ReleaseIdempotencyKey frees a claimed key so a failed attempt can be
// retried by the client.
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, idempotencyKeyPrefix+key).Err()
}
