package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vidgrab/internal/media"
)

const redisPrefix = "vidgrab:md:"

// Redis shares entries between instances. Entries expire after TTL so the
// shared level does not grow without bound.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// DefaultRedisTTL bounds how long entries live in Redis.
const DefaultRedisTTL = 24 * time.Hour

// OpenRedis connects using a redis:// URL and checks the connection.
func OpenRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(client, ttl), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Load(ctx context.Context, key string) (*media.VideoMetadata, bool, error) {
	val, err := r.client.Get(ctx, redisPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", key, err)
	}

	var md media.VideoMetadata
	if err := json.Unmarshal([]byte(val), &md); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return &md, true, nil
}

func (r *Redis) Save(ctx context.Context, key string, md *media.VideoMetadata) error {
	body, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.client.Set(ctx, redisPrefix+key, body, r.ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisPrefix+key).Err()
}

func (r *Redis) Close() error { return r.client.Close() }
