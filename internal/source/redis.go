package source

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zsiec/fcbus/internal/errors"
)

// DefaultKeyPrefix prefixes the Redis lists that hold queued driver responses.
const DefaultKeyPrefix = "fcbus:frames:"

// RedisClient answers driver requests from responses queued in Redis, one list per
// handler. The request payload is not sent anywhere.
type RedisClient struct {
	client     *redis.Client
	prefix     string
	popTimeout time.Duration
}

// NewRedisClient creates a client popping from <prefix><handler>. With a positive
// popTimeout an empty list is waited on for up to that long; otherwise it fails at once.
func NewRedisClient(client *redis.Client, prefix string, popTimeout time.Duration) *RedisClient {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisClient{
		client:     client,
		prefix:     prefix,
		popTimeout: popTimeout,
	}
}

// Key returns the list holding responses for handler.
func (r *RedisClient) Key(handler string) string {
	return r.prefix + handler
}

// Request implements Client.
func (r *RedisClient) Request(ctx context.Context, handler, _ string) (string, error) {
	key := r.Key(handler)

	if r.popTimeout > 0 {
		res, err := r.client.BLPop(ctx, r.popTimeout, key).Result()
		if err == redis.Nil {
			return "", errors.NewSourceError(fmt.Sprintf("no frame queued on %s within %s", key, r.popTimeout))
		}
		if err != nil {
			return "", errors.WrapSourceError(err, fmt.Sprintf("redis pop from %s failed", key))
		}
		// BLPOP replies with [key, value]
		return res[1], nil
	}

	res, err := r.client.LPop(ctx, key).Result()
	if err == redis.Nil {
		return "", errors.NewSourceError(fmt.Sprintf("no frame queued on %s", key))
	}
	if err != nil {
		return "", errors.WrapSourceError(err, fmt.Sprintf("redis pop from %s failed", key))
	}
	return res, nil
}

// Enqueue appends driver responses for handler.
func (r *RedisClient) Enqueue(ctx context.Context, handler string, responses ...string) error {
	if len(responses) == 0 {
		return nil
	}
	values := make([]interface{}, len(responses))
	for i, resp := range responses {
		values[i] = resp
	}
	if err := r.client.RPush(ctx, r.Key(handler), values...).Err(); err != nil {
		return fmt.Errorf("failed to queue frames on %s: %w", r.Key(handler), err)
	}
	return nil
}

// EnqueueFrames encodes frames and appends them for handler.
func (r *RedisClient) EnqueueFrames(ctx context.Context, handler string, frames ...[]byte) error {
	responses := make([]string, len(frames))
	for i, f := range frames {
		responses[i] = EncodeResponse(f)
	}
	return r.Enqueue(ctx, handler, responses...)
}

// Pending returns the number of queued responses for handler.
func (r *RedisClient) Pending(ctx context.Context, handler string) (int64, error) {
	n, err := r.client.LLen(ctx, r.Key(handler)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length of %s: %w", r.Key(handler), err)
	}
	return n, nil
}
