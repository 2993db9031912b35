package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/dialogcast/internal/config"
	"github.com/nadzzz/dialogcast/internal/store"
)

func newBadger(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewBadger(store.BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRedis(t *testing.T) (*store.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := store.NewRedis(client, store.WithPrefix("test"))
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestStores_Contract(t *testing.T) {
	backends := map[string]func(t *testing.T) store.Store{
		"memory": func(t *testing.T) store.Store { return store.NewMemory() },
		"badger": newBadger,
		"redis": func(t *testing.T) store.Store {
			s, _ := newRedis(t)
			return s
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			key := store.Key{"artifact", "job-1", "data"}

			_, err := s.Get(ctx, key)
			assert.ErrorIs(t, err, store.ErrNotFound)

			require.NoError(t, s.Set(ctx, key, []byte("RIFF...."), time.Hour))
			got, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, []byte("RIFF...."), got)

			require.NoError(t, s.Set(ctx, key, []byte("v2"), 0))
			got, err = s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), got)

			require.NoError(t, s.Delete(ctx, key))
			_, err = s.Get(ctx, key)
			assert.ErrorIs(t, err, store.ErrNotFound)

			require.NoError(t, s.Delete(ctx, store.Key{"missing"}))
		})
	}
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := store.NewMemory()
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.Set(ctx, store.Key{"job", "a"}, []byte("x"), time.Minute))
	require.NoError(t, s.Set(ctx, store.Key{"job", "b"}, []byte("y"), 0))

	now = now.Add(time.Minute)
	_, err := s.Get(ctx, store.Key{"job", "a"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.Get(ctx, store.Key{"job", "b"})
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), got)
}

func TestMemory_PurgesExpiredOnSet(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := store.NewMemory()
	s.SetClock(func() time.Time { return now })

	for i := range 1000 {
		require.NoError(t, s.Set(ctx, store.Key{"job", fmt.Sprint(i)}, []byte("x"), 24*time.Hour))
	}
	require.NoError(t, s.Set(ctx, store.Key{"config"}, []byte("keep"), 0))
	assert.Equal(t, 1001, s.Len())

	now = now.Add(48 * time.Hour)
	require.NoError(t, s.Set(ctx, store.Key{"job", "new"}, []byte("y"), 24*time.Hour))
	assert.Equal(t, 2, s.Len())
}

func TestRedis_ExpiryAndPrefix(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedis(t)

	require.NoError(t, s.Set(ctx, store.Key{"job", "a"}, []byte("x"), time.Minute))
	assert.True(t, mr.Exists("test:job:a"))
	assert.Equal(t, time.Minute, mr.TTL("test:job:a"))

	mr.FastForward(2 * time.Minute)
	_, err := s.Get(ctx, store.Key{"job", "a"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOpen(t *testing.T) {
	s, err := store.Open(config.StorageConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &store.Memory{}, s)

	s, err = store.Open(config.StorageConfig{Backend: "badger", Badger: config.BadgerConfig{InMemory: true}})
	require.NoError(t, err)
	assert.IsType(t, &store.Badger{}, s)
	require.NoError(t, s.Close())

	_, err = store.Open(config.StorageConfig{Backend: "s3"})
	assert.Error(t, err)
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "artifact:abc:meta", store.Key{"artifact", "abc", "meta"}.String())
}
