package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process cache for single-instance deployments.
type Memory struct {
	store *gocache.Cache
}

// NewMemory creates an in-process cache; expired entries are purged every cleanupInterval.
func NewMemory(cleanupInterval time.Duration) *Memory {
	return &Memory{store: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.store.Get(key)
	if !ok {
		return nil, false, nil
	}
	data, ok := v.([]byte)
	return data, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	// Copy so later writes to the caller's slice do not leak into the cache
	stored := make([]byte, len(value))
	copy(stored, value)
	m.store.Set(key, stored, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		m.store.Delete(key)
	}
	return nil
}
