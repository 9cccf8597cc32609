// Package cache provides the short-TTL read cache shared by the store and the
// image generator. Values are opaque bytes; GetJSON and SetJSON handle encoding.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Cache is a key/value store with per-entry expiry; a zero ttl never expires.
// A miss is reported as (nil, false, nil), never as an error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// GetJSON loads key into dest. It reports false on a miss.
func GetJSON(ctx context.Context, c Cache, key string, dest interface{}) (bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores value under key for ttl.
func SetJSON(ctx context.Context, c Cache, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s for cache: %w", key, err)
	}
	return c.Set(ctx, key, data, ttl)
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, ...string) error                  { return nil }
