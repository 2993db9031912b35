// Package store provides the key-value blob store that holds job records and
// audio artifacts for the retention window.
//
// Keys are hierarchical paths (e.g. ["artifact", "<job id>", "data"]) encoded
// with ':' as the separator. Every value may carry a time-to-live after which
// the backend drops it on its own.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nadzzz/dialogcast/internal/config"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("store: not found")

// Key is a hierarchical path of segments.
type Key []string

// String returns the encoded key.
func (k Key) String() string {
	return strings.Join(k, ":")
}

// Store is a key-value blob store with per-key expiry.
type Store interface {
	// Get retrieves the value for a key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set stores value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error

	// Delete removes a key. No error if the key does not exist.
	Delete(ctx context.Context, key Key) error

	// Close releases any resources held by the store.
	Close() error
}

// Open creates the store selected by cfg.Backend.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemory(), nil
	case "badger":
		return NewBadger(BadgerOptions{Dir: cfg.Badger.Dir, InMemory: cfg.Badger.InMemory})
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedis(client, WithPrefix(cfg.Redis.Prefix)), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
