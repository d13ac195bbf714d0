package chatmemory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisMaxRetries      = 3
	redisDialTimeout     = 10 * time.Second
	redisMinRetryBackoff = 100 * time.Millisecond
)

// redisConnection stores transcripts as plain Redis strings with SET ... EX.
type redisConnection struct {
	client *redis.Client
}

// DialRedis builds a Redis client for target. A separate password overrides one
// embedded in the URL. Transient command failures are retried a bounded number
// of times by the client before surfacing.
func DialRedis(_ context.Context, target CacheTarget) (Connection, error) {
	opts, err := redis.ParseURL(target.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if target.Password != "" {
		opts.Password = target.Password
	}
	opts.MaxRetries = redisMaxRetries
	opts.DialTimeout = redisDialTimeout
	opts.MinRetryBackoff = redisMinRetryBackoff

	return NewRedisConnection(redis.NewClient(opts)), nil
}

// NewRedisConnection wraps an existing client.
func NewRedisConnection(client *redis.Client) Connection {
	return &redisConnection{client: client}
}

func (c *redisConnection) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (c *redisConnection) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *redisConnection) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *redisConnection) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *redisConnection) Close() error {
	return c.client.Close()
}

// IsTransportError treats a closed client and socket-level failures as fatal
// for the handle. Server replies such as WRONGTYPE are not.
func (c *redisConnection) IsTransportError(err error) bool {
	if errors.Is(err, redis.ErrClosed) {
		return true
	}
	return isNetworkError(err)
}
