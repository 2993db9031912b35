package store

import (
	"context"
	"sync"
	"time"
)

// purgeInterval is the least time between two scans for expired entries.
const purgeInterval = time.Minute

// Memory is an in-process Store. Expired entries are dropped on access and by
// a scan that Set runs at most once per purgeInterval.
type Memory struct {
	mu         sync.Mutex
	data       map[string]memEntry
	now        func() time.Time
	lastPurged time.Time
}

type memEntry struct {
	value   []byte
	expires time.Time // zero = never
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]memEntry), now: time.Now}
}

// SetClock replaces the time source; used by tests to move past a TTL.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Get(_ context.Context, key Key) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key.String()
	e, ok := m.data[k]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.data, k)
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (m *Memory) Set(_ context.Context, key Key, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastPurged) >= purgeInterval {
		m.purge(now)
	}

	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	m.data[key.String()] = e
	return nil
}

func (m *Memory) purge(now time.Time) {
	for k, e := range m.data {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(m.data, k)
		}
	}
	m.lastPurged = now
}

// Len returns the number of entries held, including expired ones not yet purged.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key.String())
	return nil
}

func (m *Memory) Close() error { return nil }
