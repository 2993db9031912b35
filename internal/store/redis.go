package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by Redis string keys with native expiry.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithPrefix sets the key prefix. Default is "dialogcast".
func WithPrefix(prefix string) RedisOption {
	return func(s *Redis) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedis creates a Redis-backed store.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	s := &Redis{client: client, prefix: "dialogcast"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Redis) Get(ctx context.Context, key Key) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *Redis) Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

func (s *Redis) Delete(ctx context.Context, key Key) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *Redis) Close() error {
	return s.client.Close()
}

func (s *Redis) key(k Key) string {
	return s.prefix + ":" + k.String()
}
