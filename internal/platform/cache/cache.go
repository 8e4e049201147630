// Package cache provides the read-through cache used for timeline graphs.
// Values are stored as JSON so both backends hand out independent copies.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is a JSON value store with a fixed TTL per backend.
type Cache interface {
	Get(ctx context.Context, key string, dst any) error
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
}

// DefaultTTL applies when a backend is created with a non-positive TTL.
const DefaultTTL = 5 * time.Minute

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
